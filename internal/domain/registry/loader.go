package registry

import (
	"fmt"

	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

// CacheDomain is the cache store key for admissions.
const CacheDomain = "admission"

// Admissions source field positions.
const (
	colPatientID = 1
	colVisitID   = 2
	colAdmit     = 3
	colDischarge = 4
	colDeath     = 5
	colEthnicity = 13
)

type LoadStats struct {
	Rows       int64
	Duplicates int64
}

// Load builds the registry from raw admission rows. An unparsable admit or
// discharge timestamp aborts the whole run. A missing death timestamp is a
// valid state, not an error. Duplicate (patient, visit) keys overwrite the
// earlier row and are counted.
func Load(rows [][]string) (*Registry, LoadStats, error) {
	r := New()
	var stats LoadStats
	for _, row := range rows {
		stats.Rows++
		if len(row) <= colEthnicity {
			return nil, stats, fmt.Errorf("admissions row %d: %d fields, want at least %d", stats.Rows, len(row), colEthnicity+1)
		}
		v := &Visit{
			PatientID: row[colPatientID],
			VisitID:   row[colVisitID],
			Ethnicity: row[colEthnicity],
		}
		admit, err := source.ParseTime(row[colAdmit])
		if err != nil {
			return nil, stats, fmt.Errorf("admissions row %d: admit time %q: %w", stats.Rows, row[colAdmit], err)
		}
		discharge, err := source.ParseTime(row[colDischarge])
		if err != nil {
			return nil, stats, fmt.Errorf("admissions row %d: discharge time %q: %w", stats.Rows, row[colDischarge], err)
		}
		v.AdmitTime = admit
		v.DischargeTime = discharge
		if death := row[colDeath]; len(death) > 0 {
			dt, err := source.ParseTime(death)
			if err != nil {
				return nil, stats, fmt.Errorf("admissions row %d: death time %q: %w", stats.Rows, death, err)
			}
			v.DeathTime = dt
		}
		if r.put(v) {
			stats.Duplicates++
		}
	}
	return r, stats, nil
}

// CacheHeader describes the flat cache row shape for admissions.
func CacheHeader() []string {
	return []string{"patient_id", "visit_id", "admit_time", "discharge_time", "death_time", "ethnicity"}
}

// CacheRows serializes the registry for the cache store. "Not deceased"
// becomes the fixed sentinel date only here, at the boundary.
func (r *Registry) CacheRows() [][]string {
	var rows [][]string
	for _, patientID := range r.Patients() {
		for _, visitID := range r.VisitIDs(patientID) {
			v, _ := r.Visit(patientID, visitID)
			death := v.DeathTime
			if !v.Deceased() {
				death = notDeceased
			}
			rows = append(rows, []string{
				v.PatientID, v.VisitID,
				source.FormatTime(v.AdmitTime),
				source.FormatTime(v.DischargeTime),
				source.FormatTime(death),
				v.Ethnicity,
			})
		}
	}
	return rows
}

// FromCache rebuilds the registry from cache rows. The round trip through
// CacheRows and FromCache must reproduce the structure Load built.
func FromCache(rows [][]string) (*Registry, error) {
	r := New()
	for i, row := range rows {
		if len(row) != 6 {
			return nil, fmt.Errorf("admission cache row %d: %d fields, want 6", i+1, len(row))
		}
		admit, err := source.ParseTime(row[2])
		if err != nil {
			return nil, fmt.Errorf("admission cache row %d: admit time: %w", i+1, err)
		}
		discharge, err := source.ParseTime(row[3])
		if err != nil {
			return nil, fmt.Errorf("admission cache row %d: discharge time: %w", i+1, err)
		}
		death, err := source.ParseTime(row[4])
		if err != nil {
			return nil, fmt.Errorf("admission cache row %d: death time: %w", i+1, err)
		}
		v := &Visit{
			PatientID:     row[0],
			VisitID:       row[1],
			AdmitTime:     admit,
			DischargeTime: discharge,
			Ethnicity:     row[5],
		}
		if !death.Equal(notDeceased) {
			v.DeathTime = death
		}
		r.put(v)
	}
	return r, nil
}
