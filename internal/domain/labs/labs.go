// Package labs resolves lab-test events per visit. The tracked vocabulary is
// not a static mapping file: it is discovered by a frequency pass over the
// raw event file, and must be rebuilt with the same threshold and counting
// pass on every run so cached and uncached paths agree. Lab values may stay
// free text when no number can be extracted, and the timestamp of the
// selected observation is retained through the cache round trip.
package labs

import (
	"fmt"
	"time"

	"github.com/JasonZhang2981/PBXAI/internal/domain/mapping"
	"github.com/JasonZhang2981/PBXAI/internal/domain/observe"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

const CacheDomain = "lab_test"

// Lab-event source field positions.
const (
	colPatientID = 1
	colVisitID   = 2
	colCode      = 3
	colTestTime  = 4
	colResult    = 5
)

// Result is the resolved state of one lab feature for one visit. Numeric is
// false when the raw result text carried no parsable number; the raw string
// is then the feature value.
type Result struct {
	Raw      string
	Num      float64
	Numeric  bool
	Time     time.Time
	Observed bool
}

// Consider offers a candidate observation under earliest-wins.
func (r *Result) Consider(raw string, at time.Time) {
	if r.Observed && !at.Before(r.Time) {
		return
	}
	r.Raw = raw
	r.Time = at
	r.Observed = true
	r.Num, r.Numeric = observe.ExtractNumber(raw)
}

// BoundaryValue is the serialized feature value.
func (r Result) BoundaryValue() string {
	if !r.Observed {
		return observe.FormatValue(observe.MissingValue)
	}
	if r.Numeric {
		return observe.FormatValue(r.Num)
	}
	return r.Raw
}

func (r Result) BoundaryTime() time.Time {
	if !r.Observed {
		return observe.FarFuture
	}
	return r.Time
}

type Features struct {
	names   []string // canonical feature names in column order
	byVisit map[string]map[string]map[string]*Result
}

// Vocabulary is the frequency-discovered set of tracked lab features.
type Vocabulary struct {
	codes      []string
	nameByCode map[string]string
}

// BuildVocabulary counts code occurrences over the raw event rows and keeps
// codes seen at least minCount times. A qualifying code absent from the
// code-name dictionary means the dictionary is incomplete, which is fatal.
func BuildVocabulary(scan source.Scanner, dict map[string]string, minCount int, rec *audit.Recorder) (*Vocabulary, error) {
	counter := make(mapping.CodeCounter)
	err := scan(func(row []string) error {
		if len(row) <= colCode {
			rec.Skip(CacheDomain, audit.ReasonShortRow)
			return nil
		}
		counter.Add(row[colCode])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count lab codes: %w", err)
	}

	v := &Vocabulary{codes: counter.Vocabulary(minCount), nameByCode: make(map[string]string)}
	for _, code := range v.codes {
		name, ok := dict[code]
		if !ok {
			return nil, fmt.Errorf("lab dictionary has no entry for qualifying code %s", code)
		}
		v.nameByCode[code] = name
	}
	return v, nil
}

// Names returns canonical feature names in vocabulary (sorted-code) order.
func (v *Vocabulary) Names() []string {
	names := make([]string, 0, len(v.codes))
	for _, code := range v.codes {
		names = append(names, v.nameByCode[code])
	}
	return names
}

// Extract resolves lab events against the vocabulary. Two codes sharing one
// canonical name merge under earliest-wins.
func Extract(reg *registry.Registry, scan source.Scanner, vocab *Vocabulary, rec *audit.Recorder) (*Features, error) {
	f := initFeatures(reg, vocab)
	err := scan(func(row []string) error {
		if len(row) <= colResult {
			rec.Skip(CacheDomain, audit.ReasonShortRow)
			return nil
		}
		patientID, visitID := row[colPatientID], row[colVisitID]
		if !reg.Has(patientID, visitID) {
			rec.Skip(CacheDomain, audit.ReasonOrphanVisit)
			return nil
		}
		name, tracked := vocab.nameByCode[row[colCode]]
		if !tracked {
			return nil
		}
		testTime := row[colTestTime]
		if len(testTime) < 10 {
			rec.Skip(CacheDomain, audit.ReasonShortField)
			return nil
		}
		at, err := source.ParseTime(testTime)
		if err != nil {
			rec.Skip(CacheDomain, audit.ReasonBadTimestamp)
			return nil
		}
		f.byVisit[patientID][visitID][name].Consider(row[colResult], at)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan lab events: %w", err)
	}
	return f, nil
}

func initFeatures(reg *registry.Registry, vocab *Vocabulary) *Features {
	f := &Features{
		names:   vocab.Names(),
		byVisit: make(map[string]map[string]map[string]*Result),
	}
	for _, patientID := range reg.Patients() {
		f.byVisit[patientID] = make(map[string]map[string]*Result)
		for _, visitID := range reg.VisitIDs(patientID) {
			visit := make(map[string]*Result, len(f.names))
			for _, name := range f.names {
				visit[name] = &Result{}
			}
			f.byVisit[patientID][visitID] = visit
		}
	}
	return f
}

// Result returns the resolved state of one lab feature for one visit.
func (f *Features) Result(patientID, visitID, feature string) Result {
	if r, ok := f.byVisit[patientID][visitID][feature]; ok {
		return *r
	}
	return Result{}
}

func (f *Features) Name() string { return CacheDomain }

func (f *Features) Features() []string { return f.names }

func (f *Features) Value(patientID, visitID, feature string) (string, bool) {
	visit, ok := f.byVisit[patientID][visitID]
	if !ok {
		return "", false
	}
	r, ok := visit[feature]
	if !ok {
		return "", false
	}
	return r.BoundaryValue(), true
}

// CacheHeader includes the record time: the lab lifecycle keeps the timestamp
// of the selected observation.
func CacheHeader() []string {
	return []string{"patient_id", "visit_id", "feature", "value", "record_time"}
}

func (f *Features) CacheRows(reg *registry.Registry) [][]string {
	var rows [][]string
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			visit := f.byVisit[patientID][visitID]
			for _, name := range f.names {
				r := visit[name]
				rows = append(rows, []string{
					patientID, visitID, name,
					r.BoundaryValue(),
					source.FormatTime(r.BoundaryTime()),
				})
			}
		}
	}
	return rows
}

// FromCache rebuilds the features from cache rows, re-applying the numeric
// extraction to the stored value exactly as the raw path does.
func FromCache(rows [][]string) (*Features, error) {
	f := &Features{byVisit: make(map[string]map[string]map[string]*Result)}
	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) != 5 {
			return nil, fmt.Errorf("lab_test cache row %d: %d fields, want 5", i+1, len(row))
		}
		at, err := source.ParseTime(row[4])
		if err != nil {
			return nil, fmt.Errorf("lab_test cache row %d: record time: %w", i+1, err)
		}
		patientID, visitID, name, value := row[0], row[1], row[2], row[3]
		if !seen[name] {
			seen[name] = true
			f.names = append(f.names, name)
		}
		if _, ok := f.byVisit[patientID]; !ok {
			f.byVisit[patientID] = make(map[string]map[string]*Result)
		}
		if _, ok := f.byVisit[patientID][visitID]; !ok {
			f.byVisit[patientID][visitID] = make(map[string]*Result)
		}
		r := &Result{Raw: value, Time: at, Observed: true}
		r.Num, r.Numeric = observe.ExtractNumber(value)
		if r.Numeric && r.Num == observe.MissingValue && at.Equal(observe.FarFuture) {
			r = &Result{}
		}
		f.byVisit[patientID][visitID][name] = r
	}
	return f, nil
}
