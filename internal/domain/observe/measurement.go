// Package observe reduces repeated, timestamped observations of one feature
// down to a single representative value per visit. The selection rule is
// earliest-timestamp-wins: a candidate replaces the current best only when it
// is strictly earlier, so on a timestamp tie the first-seen observation is
// kept.
package observe

import "time"

// Boundary sentinels. Internally absence is carried by the Observed flag;
// these literals appear only when a value crosses a serialization boundary
// (cache rows, the output matrix).
var (
	// FarFuture is the timestamp an unresolved feature carries, so the first
	// valid observation always wins the earliest comparison.
	FarFuture = time.Date(2500, 1, 1, 0, 0, 0, 0, time.UTC)
)

// MissingValue marks "no valid observation" in serialized form.
const MissingValue = -1

// Measurement is the resolved state of one continuous feature for one visit.
type Measurement struct {
	Value    float64
	Time     time.Time
	Observed bool
}

// Consider offers a candidate observation. The candidate wins only if nothing
// has been observed yet or it is strictly earlier than the current best.
func (m *Measurement) Consider(value float64, at time.Time) {
	if m.Observed && !at.Before(m.Time) {
		return
	}
	m.Value = value
	m.Time = at
	m.Observed = true
}

// BoundaryValue converts to the serialized representation.
func (m Measurement) BoundaryValue() float64 {
	if !m.Observed {
		return MissingValue
	}
	return m.Value
}

// BoundaryTime converts to the serialized timestamp representation.
func (m Measurement) BoundaryTime() time.Time {
	if !m.Observed {
		return FarFuture
	}
	return m.Time
}
