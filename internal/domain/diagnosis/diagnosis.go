// Package diagnosis marks disease presence per visit. Observed ICD codes are
// matched by substring containment of the mapping code, so one observed code
// can satisfy several canonical diseases.
package diagnosis

import (
	"fmt"
	"strconv"

	"github.com/JasonZhang2981/PBXAI/internal/domain/mapping"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

const CacheDomain = "diagnosis"

// Diagnosis source field positions.
const (
	colPatientID = 1
	colVisitID   = 2
	colICDCode   = 4
)

type Features struct {
	names   []string
	byVisit map[string]map[string]map[string]int
}

func Extract(reg *registry.Registry, scan source.Scanner, dm *mapping.DiagnosisMatcher, rec *audit.Recorder) (*Features, error) {
	f := initFeatures(reg, dm.Names())
	err := scan(func(row []string) error {
		if len(row) <= colICDCode {
			rec.Skip(CacheDomain, audit.ReasonShortRow)
			return nil
		}
		patientID, visitID := row[colPatientID], row[colVisitID]
		if !reg.Has(patientID, visitID) {
			rec.Skip(CacheDomain, audit.ReasonOrphanVisit)
			return nil
		}
		for _, name := range dm.Match(row[colICDCode]) {
			f.byVisit[patientID][visitID][name] = 1
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan diagnoses: %w", err)
	}
	return f, nil
}

func initFeatures(reg *registry.Registry, names []string) *Features {
	f := &Features{names: names, byVisit: make(map[string]map[string]map[string]int)}
	for _, patientID := range reg.Patients() {
		f.byVisit[patientID] = make(map[string]map[string]int)
		for _, visitID := range reg.VisitIDs(patientID) {
			visit := make(map[string]int, len(names))
			for _, name := range names {
				visit[name] = 0
			}
			f.byVisit[patientID][visitID] = visit
		}
	}
	return f
}

// Positive reports whether the named disease was diagnosed for the visit.
func (f *Features) Positive(patientID, visitID, name string) bool {
	return f.byVisit[patientID][visitID][name] == 1
}

func (f *Features) Name() string { return CacheDomain }

func (f *Features) Features() []string { return f.names }

func (f *Features) Value(patientID, visitID, feature string) (string, bool) {
	visit, ok := f.byVisit[patientID][visitID]
	if !ok {
		return "", false
	}
	v, ok := visit[feature]
	if !ok {
		return "", false
	}
	return strconv.Itoa(v), true
}

func CacheHeader() []string {
	return []string{"patient_id", "visit_id", "disease", "positive"}
}

func (f *Features) CacheRows(reg *registry.Registry) [][]string {
	var rows [][]string
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			visit := f.byVisit[patientID][visitID]
			for _, name := range f.names {
				rows = append(rows, []string{patientID, visitID, name, strconv.Itoa(visit[name])})
			}
		}
	}
	return rows
}

func FromCache(rows [][]string) (*Features, error) {
	f := &Features{byVisit: make(map[string]map[string]map[string]int)}
	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("diagnosis cache row %d: %d fields, want 4", i+1, len(row))
		}
		positive, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("diagnosis cache row %d: positive: %w", i+1, err)
		}
		patientID, visitID, name := row[0], row[1], row[2]
		if !seen[name] {
			seen[name] = true
			f.names = append(f.names, name)
		}
		if _, ok := f.byVisit[patientID]; !ok {
			f.byVisit[patientID] = make(map[string]map[string]int)
		}
		if _, ok := f.byVisit[patientID][visitID]; !ok {
			f.byVisit[patientID][visitID] = make(map[string]int)
		}
		f.byVisit[patientID][visitID][name] = positive
	}
	return f, nil
}
