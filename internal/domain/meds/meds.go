// Package meds marks medication-category presence per visit. An order counts
// only when it starts within a configured window before discharge, and one
// order may set several categories positive; nothing ever resets a category
// to zero.
package meds

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JasonZhang2981/PBXAI/internal/domain/mapping"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

const CacheDomain = "medicine"

// Prescription source field positions.
const (
	colPatientID = 1
	colVisitID   = 2
	colStartDate = 5
	colDrugName  = 7
	colDrugForm  = 8
	colDrugRoute = 9
)

type Features struct {
	names   []string
	byVisit map[string]map[string]map[string]int
}

// Extract scans prescription rows against the keyword map. The matched token
// is the lowercased "<name>_<form>_<route>" concatenation.
func Extract(reg *registry.Registry, scan source.Scanner, km *mapping.KeywordMap, windowHours float64, rec *audit.Recorder) (*Features, error) {
	f := initFeatures(reg, km.Categories())
	err := scan(func(row []string) error {
		if len(row) <= colDrugRoute {
			rec.Skip(CacheDomain, audit.ReasonShortRow)
			return nil
		}
		patientID, visitID, startDate := row[colPatientID], row[colVisitID], row[colStartDate]
		if len(startDate) < 10 {
			rec.Skip(CacheDomain, audit.ReasonShortField)
			return nil
		}
		visit, ok := reg.Visit(patientID, visitID)
		if !ok {
			rec.Skip(CacheDomain, audit.ReasonOrphanVisit)
			return nil
		}
		start, err := source.ParseTime(startDate)
		if err != nil {
			rec.Skip(CacheDomain, audit.ReasonBadTimestamp)
			return nil
		}
		if visit.DischargeTime.Sub(start).Hours() > windowHours {
			rec.Skip(CacheDomain, audit.ReasonOutsideWindow)
			return nil
		}

		token := strings.ToLower(row[colDrugName] + "_" + row[colDrugForm] + "_" + row[colDrugRoute])
		for _, category := range km.Match(token) {
			f.byVisit[patientID][visitID][category] = 1
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan prescriptions: %w", err)
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

// Positive reports whether a category was set for the visit.
func (f *Features) Positive(patientID, visitID, category string) bool {
	return f.byVisit[patientID][visitID][category] == 1
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
	return []string{"patient_id", "visit_id", "medicine", "usage"}
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
			return nil, fmt.Errorf("medicine cache row %d: %d fields, want 4", i+1, len(row))
		}
		usage, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("medicine cache row %d: usage: %w", i+1, err)
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
		f.byVisit[patientID][visitID][name] = usage
	}
	return f, nil
}
