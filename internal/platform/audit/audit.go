// Package audit counts what the batch silently skipped. Individual skips are
// never logged per row; they are tallied here and reported once per run.
package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Skip reasons shared across stages.
const (
	ReasonShortField    = "short_field"
	ReasonBadTimestamp  = "bad_timestamp"
	ReasonBadValue      = "bad_value"
	ReasonBadUnit       = "bad_unit"
	ReasonOutOfRange    = "out_of_range"
	ReasonOrphanVisit   = "orphan_visit"
	ReasonOutsideWindow = "outside_window"
	ReasonDuplicateKey  = "duplicate_key"
	ReasonShortRow      = "short_row"
)

type Recorder struct {
	mu       sync.Mutex
	runID    string
	started  time.Time
	counters map[string]int64
	stages   []StageResult
}

type StageResult struct {
	Stage    string        `json:"stage"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
}

type Summary struct {
	RunID    string           `json:"run_id"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Stages   []StageResult    `json:"stages"`
	Skipped  map[string]int64 `json:"skipped"`
}

func NewRecorder() *Recorder {
	return &Recorder{
		runID:    uuid.New().String(),
		started:  time.Now().UTC(),
		counters: make(map[string]int64),
	}
}

func (r *Recorder) RunID() string { return r.runID }

// Skip counts one skipped record for a stage and reason.
func (r *Recorder) Skip(stage, reason string) {
	r.mu.Lock()
	r.counters[stage+"."+reason]++
	r.mu.Unlock()
}

// StageDone records a completed stage with its scanned row count.
func (r *Recorder) StageDone(stage string, rows int64, d time.Duration) {
	r.mu.Lock()
	r.stages = append(r.stages, StageResult{Stage: stage, Rows: rows, Duration: d})
	r.mu.Unlock()
}

func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	skipped := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		skipped[k] = v
	}
	stages := append([]StageResult(nil), r.stages...)
	return Summary{
		RunID:    r.runID,
		Started:  r.started,
		Finished: time.Now().UTC(),
		Stages:   stages,
		Skipped:  skipped,
	}
}

// Log emits the run summary once at completion.
func (r *Recorder) Log(logger zerolog.Logger) {
	s := r.Summary()
	keys := make([]string, 0, len(s.Skipped))
	for k := range s.Skipped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	evt := logger.Info().Str("run_id", s.RunID)
	for _, st := range s.Stages {
		evt = evt.Dur("stage_"+st.Stage, st.Duration)
	}
	for _, k := range keys {
		evt = evt.Int64("skipped_"+k, s.Skipped[k])
	}
	evt.Msg("run complete")
}
