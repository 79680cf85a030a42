// Package registry owns the canonical per-visit timeline anchors. Every other
// stage holds read-only references into it by (patient_id, visit_id).
package registry

import (
	"sort"
	"strconv"
	"time"
)

// notDeceased is the boundary sentinel for a missing death timestamp.
// Internally "not deceased" is the zero time.
var notDeceased = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Visit is one hospital encounter. Immutable once constructed from the
// admissions source.
type Visit struct {
	PatientID     string
	VisitID       string
	AdmitTime     time.Time
	DischargeTime time.Time
	DeathTime     time.Time // zero = not deceased
	Ethnicity     string
}

func (v *Visit) Deceased() bool {
	return !v.DeathTime.IsZero()
}

// Registry maps patient_id -> visit_id -> Visit.
type Registry struct {
	visits map[string]map[string]*Visit
}

func New() *Registry {
	return &Registry{visits: make(map[string]map[string]*Visit)}
}

// put stores a visit, reporting whether it replaced an existing entry.
func (r *Registry) put(v *Visit) bool {
	byVisit, ok := r.visits[v.PatientID]
	if !ok {
		byVisit = make(map[string]*Visit)
		r.visits[v.PatientID] = byVisit
	}
	_, replaced := byVisit[v.VisitID]
	byVisit[v.VisitID] = v
	return replaced
}

func (r *Registry) Visit(patientID, visitID string) (*Visit, bool) {
	v, ok := r.visits[patientID][visitID]
	return v, ok
}

func (r *Registry) Has(patientID, visitID string) bool {
	_, ok := r.visits[patientID][visitID]
	return ok
}

func (r *Registry) HasPatient(patientID string) bool {
	_, ok := r.visits[patientID]
	return ok
}

func (r *Registry) VisitCount(patientID string) int {
	return len(r.visits[patientID])
}

func (r *Registry) Len() int {
	n := 0
	for _, byVisit := range r.visits {
		n += len(byVisit)
	}
	return n
}

// Patients returns patient IDs in deterministic order.
func (r *Registry) Patients() []string {
	ids := make([]string, 0, len(r.visits))
	for id := range r.visits {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// VisitIDs returns a patient's visit IDs ordered numerically.
func (r *Registry) VisitIDs(patientID string) []string {
	byVisit := r.visits[patientID]
	ids := make([]string, 0, len(byVisit))
	for id := range byVisit {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// sortIDs orders identifiers numerically when both sides parse as integers,
// lexicographically otherwise.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
}
