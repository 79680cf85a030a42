// Package matrix merges the per-domain feature dictionaries into one row per
// (patient, visit). The column order is constructed explicitly from the
// domain schemas, and every row is validated against it: a missing key is a
// schema error surfaced to the caller, never a silent skip.
package matrix

import (
	"fmt"

	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

// Domain is one resolved feature dictionary. Every extractor and the derived
// computer satisfy this contract.
type Domain interface {
	Name() string
	Features() []string
	Value(patientID, visitID, feature string) (string, bool)
}

// Table is the assembled feature matrix.
type Table struct {
	Header []string
	Rows   [][]string
}

// Assemble builds the matrix. A patient's visits are included only when the
// patient has at least minVisit visits in the registry; visit rows are
// ordered numerically within a patient.
func Assemble(reg *registry.Registry, domains []Domain, minVisit int) (*Table, error) {
	header := []string{"patient_id", "visit_id"}
	owner := make(map[string]string)
	for _, d := range domains {
		for _, feature := range d.Features() {
			if prev, dup := owner[feature]; dup {
				return nil, fmt.Errorf("feature %q defined by both %s and %s", feature, prev, d.Name())
			}
			owner[feature] = d.Name()
			header = append(header, feature)
		}
	}

	t := &Table{Header: header}
	for _, patientID := range reg.Patients() {
		if reg.VisitCount(patientID) < minVisit {
			continue
		}
		for _, visitID := range reg.VisitIDs(patientID) {
			row := make([]string, 0, len(header))
			row = append(row, patientID, visitID)
			for _, d := range domains {
				for _, feature := range d.Features() {
					v, ok := d.Value(patientID, visitID, feature)
					if !ok {
						return nil, fmt.Errorf("domain %s has no value for feature %q at visit %s/%s",
							d.Name(), feature, patientID, visitID)
					}
					row = append(row, v)
				}
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

// WriteCSV emits the final table: header row then one row per included
// visit, UTF-8 with BOM.
func (t *Table) WriteCSV(path string) error {
	return source.WriteTable(path, t.Header, t.Rows)
}
