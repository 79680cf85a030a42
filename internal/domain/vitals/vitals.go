// Package vitals resolves chart-event vital signs (blood pressure, height,
// weight) down to one representative value per visit via earliest-wins, with
// unit normalization and plausibility gating. BMI is derived afterwards and
// carried in this domain's feature set.
package vitals

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JasonZhang2981/PBXAI/internal/domain/observe"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

const (
	CacheDomain = "vital_sign"

	FeatureDBP    = "血压Low"
	FeatureSBP    = "血压high"
	FeatureHeight = "height"
	FeatureWeight = "weight"
	FeatureBMI    = "BMI"
)

// Chart-event source field positions.
const (
	colPatientID = 1
	colVisitID   = 2
	colItemID    = 4
	colChartTime = 5
	colValue     = 9
	colUnit      = 10
)

// Item code sets per vital sign.
var (
	sbpItems    = map[string]bool{"51": true, "455": true, "220179": true, "220050": true}
	dbpItems    = map[string]bool{"8368": true, "8441": true, "220180": true, "220051": true}
	heightItems = map[string]bool{"216": true, "1394": true, "226707": true, "226730": true, "920": true}
	weightItems = map[string]bool{
		"3580": true, "3581": true, "3582": true, "224639": true,
		"763": true, "226512": true, "226531": true, "762": true,
	}
)

type Features struct {
	byVisit map[string]map[string]map[string]observe.Measurement
}

func featureList() []string {
	return []string{FeatureDBP, FeatureSBP, FeatureHeight, FeatureWeight, FeatureBMI}
}

// Extract scans chart-event rows and resolves each vital sign per visit.
func Extract(reg *registry.Registry, scan source.Scanner, rec *audit.Recorder) (*Features, error) {
	f := initFeatures(reg)
	err := scan(func(row []string) error {
		if len(row) <= colUnit {
			rec.Skip(CacheDomain, audit.ReasonShortRow)
			return nil
		}
		patientID, visitID := row[colPatientID], row[colVisitID]
		if !reg.Has(patientID, visitID) {
			rec.Skip(CacheDomain, audit.ReasonOrphanVisit)
			return nil
		}
		chartTime, rawValue := row[colChartTime], row[colValue]
		if len(chartTime) < 10 || len(rawValue) < 1 {
			rec.Skip(CacheDomain, audit.ReasonShortField)
			return nil
		}
		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			rec.Skip(CacheDomain, audit.ReasonBadValue)
			return nil
		}
		at, err := source.ParseTime(chartTime)
		if err != nil {
			rec.Skip(CacheDomain, audit.ReasonBadTimestamp)
			return nil
		}
		item := row[colItemID]
		unit := strings.ToLower(row[colUnit])
		visit := f.byVisit[patientID][visitID]

		switch {
		case sbpItems[item] || dbpItems[item]:
			if unit != "mmhg" {
				rec.Skip(CacheDomain, audit.ReasonBadUnit)
				return nil
			}
			feature := FeatureSBP
			if dbpItems[item] {
				feature = FeatureDBP
			}
			m := visit[feature]
			m.Consider(value, at)
			visit[feature] = m

		case heightItems[item]:
			cm, ok := observe.NormalizeHeight(value, unit)
			if !ok {
				rec.Skip(CacheDomain, audit.ReasonBadUnit)
				return nil
			}
			if !observe.HeightInRange(cm) {
				rec.Skip(CacheDomain, audit.ReasonOutOfRange)
				return nil
			}
			m := visit[FeatureHeight]
			m.Consider(cm, at)
			visit[FeatureHeight] = m

		case weightItems[item]:
			var kg float64
			switch {
			case unit == "kg":
				kg = value
			case unit == "lbs" || item == "226531":
				// Item 226531 records pounds under any other unit tag.
				kg = value * observe.PoundsToKg
			case unit == "oz":
				kg = value * observe.OuncesToKg
			default:
				rec.Skip(CacheDomain, audit.ReasonBadUnit)
				return nil
			}
			if !observe.WeightInRange(kg) {
				rec.Skip(CacheDomain, audit.ReasonOutOfRange)
				return nil
			}
			m := visit[FeatureWeight]
			m.Consider(kg, at)
			visit[FeatureWeight] = m
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan chart events: %w", err)
	}
	return f, nil
}

func initFeatures(reg *registry.Registry) *Features {
	f := &Features{byVisit: make(map[string]map[string]map[string]observe.Measurement)}
	for _, patientID := range reg.Patients() {
		f.byVisit[patientID] = make(map[string]map[string]observe.Measurement)
		for _, visitID := range reg.VisitIDs(patientID) {
			visit := make(map[string]observe.Measurement, len(featureList()))
			for _, feature := range featureList() {
				visit[feature] = observe.Measurement{}
			}
			f.byVisit[patientID][visitID] = visit
		}
	}
	return f
}

// Measurement returns the resolved state of one feature for one visit.
func (f *Features) Measurement(patientID, visitID, feature string) observe.Measurement {
	return f.byVisit[patientID][visitID][feature]
}

// Set overwrites a feature's resolved state; used by the derived computer to
// store BMI.
func (f *Features) Set(patientID, visitID, feature string, m observe.Measurement) {
	if visit, ok := f.byVisit[patientID][visitID]; ok {
		visit[feature] = m
	}
}

func (f *Features) Name() string { return CacheDomain }

func (f *Features) Features() []string { return featureList() }

func (f *Features) Value(patientID, visitID, feature string) (string, bool) {
	visit, ok := f.byVisit[patientID][visitID]
	if !ok {
		return "", false
	}
	m, ok := visit[feature]
	if !ok {
		return "", false
	}
	return observe.FormatValue(m.BoundaryValue()), true
}

func CacheHeader() []string {
	return []string{"patient_id", "visit_id", "feature", "value"}
}

func (f *Features) CacheRows(reg *registry.Registry) [][]string {
	var rows [][]string
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			visit := f.byVisit[patientID][visitID]
			for _, feature := range featureList() {
				rows = append(rows, []string{
					patientID, visitID, feature,
					observe.FormatValue(visit[feature].BoundaryValue()),
				})
			}
		}
	}
	return rows
}

// FromCache rebuilds the features from cache rows. The -1 sentinel maps back
// to the unobserved state; resolution timestamps are not retained for vitals.
func FromCache(rows [][]string) (*Features, error) {
	f := &Features{byVisit: make(map[string]map[string]map[string]observe.Measurement)}
	for i, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("vital_sign cache row %d: %d fields, want 4", i+1, len(row))
		}
		value, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("vital_sign cache row %d: value: %w", i+1, err)
		}
		patientID, visitID, feature := row[0], row[1], row[2]
		if _, ok := f.byVisit[patientID]; !ok {
			f.byVisit[patientID] = make(map[string]map[string]observe.Measurement)
		}
		if _, ok := f.byVisit[patientID][visitID]; !ok {
			f.byVisit[patientID][visitID] = make(map[string]observe.Measurement)
		}
		m := observe.Measurement{Value: value, Observed: true}
		if value == observe.MissingValue {
			m = observe.Measurement{}
		}
		f.byVisit[patientID][visitID][feature] = m
	}
	return f, nil
}
