// Package demographics derives per-visit age and sex from the patient source.
// A patient with missing or malformed demographics keeps sentinel age/sex on
// every visit rather than failing the run; a sex code outside the two
// recognized categories aborts it.
package demographics

import (
	"fmt"
	"math"
	"strconv"

	"github.com/JasonZhang2981/PBXAI/internal/domain/observe"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

const (
	CacheDomain = "visit_info"

	FeatureAge = "年龄"
	FeatureSex = "性别"

	SexFemale = 0
	SexMale   = 1
)

// Patient source field positions.
const (
	colPatientID = 1
	colSex       = 2
	colBirthday  = 3
)

// Info is the resolved demographic state of one visit.
type Info struct {
	Age      float64
	Sex      int
	Observed bool
}

type Features struct {
	byVisit map[string]map[string]Info
}

// Extract scans the patient rows and computes per-visit age from birth date
// and admission time. Age is (admission - birth) in whole days over 365.
func Extract(reg *registry.Registry, rows [][]string, rec *audit.Recorder) (*Features, error) {
	f := initFeatures(reg)
	for _, row := range rows {
		if len(row) <= colBirthday {
			rec.Skip(CacheDomain, audit.ReasonShortRow)
			continue
		}
		patientID, sex, birthday := row[colPatientID], row[colSex], row[colBirthday]
		if !reg.HasPatient(patientID) {
			rec.Skip(CacheDomain, audit.ReasonOrphanVisit)
			continue
		}
		if len(sex) < 1 || len(birthday) < 10 {
			rec.Skip(CacheDomain, audit.ReasonShortField)
			continue
		}
		birth, err := source.ParseTime(birthday)
		if err != nil {
			rec.Skip(CacheDomain, audit.ReasonBadTimestamp)
			continue
		}

		var sexCode int
		switch sex {
		case "F":
			sexCode = SexFemale
		case "M":
			sexCode = SexMale
		default:
			return nil, fmt.Errorf("patient %s: invalid sex code %q", patientID, sex)
		}

		for _, visitID := range reg.VisitIDs(patientID) {
			v, _ := reg.Visit(patientID, visitID)
			// Floor, not truncate: shifted birth dates in the source can
			// land after admission, and negative spans must round down.
			days := int(math.Floor(v.AdmitTime.Sub(birth).Hours() / 24))
			f.byVisit[patientID][visitID] = Info{
				Age:      float64(days) / 365,
				Sex:      sexCode,
				Observed: true,
			}
		}
	}
	return f, nil
}

func initFeatures(reg *registry.Registry) *Features {
	f := &Features{byVisit: make(map[string]map[string]Info)}
	for _, patientID := range reg.Patients() {
		f.byVisit[patientID] = make(map[string]Info)
		for _, visitID := range reg.VisitIDs(patientID) {
			f.byVisit[patientID][visitID] = Info{}
		}
	}
	return f
}

// Info returns the resolved state for one visit.
func (f *Features) Info(patientID, visitID string) Info {
	return f.byVisit[patientID][visitID]
}

// Name implements the assembler's domain contract.
func (f *Features) Name() string { return CacheDomain }

func (f *Features) Features() []string {
	return []string{FeatureAge, FeatureSex}
}

func (f *Features) Value(patientID, visitID, feature string) (string, bool) {
	info, ok := f.byVisit[patientID][visitID]
	if !ok {
		return "", false
	}
	switch feature {
	case FeatureAge:
		if !info.Observed {
			return strconv.Itoa(observe.MissingValue), true
		}
		return observe.FormatValue(info.Age), true
	case FeatureSex:
		if !info.Observed {
			return strconv.Itoa(observe.MissingValue), true
		}
		return strconv.Itoa(info.Sex), true
	default:
		return "", false
	}
}

// CacheHeader is the visit_info cache shape: sex then age.
func CacheHeader() []string {
	return []string{"patient_id", "visit_id", FeatureSex, FeatureAge}
}

func (f *Features) CacheRows(reg *registry.Registry) [][]string {
	var rows [][]string
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			info := f.byVisit[patientID][visitID]
			sexVal, ageVal := strconv.Itoa(observe.MissingValue), strconv.Itoa(observe.MissingValue)
			if info.Observed {
				sexVal = strconv.Itoa(info.Sex)
				ageVal = observe.FormatValue(info.Age)
			}
			rows = append(rows, []string{patientID, visitID, sexVal, ageVal})
		}
	}
	return rows
}

// FromCache rebuilds the features from cache rows; the sentinel pair maps
// back to the unobserved state.
func FromCache(rows [][]string) (*Features, error) {
	f := &Features{byVisit: make(map[string]map[string]Info)}
	for i, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("visit_info cache row %d: %d fields, want 4", i+1, len(row))
		}
		sexCode, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("visit_info cache row %d: sex: %w", i+1, err)
		}
		age, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("visit_info cache row %d: age: %w", i+1, err)
		}
		patientID, visitID := row[0], row[1]
		if _, ok := f.byVisit[patientID]; !ok {
			f.byVisit[patientID] = make(map[string]Info)
		}
		info := Info{Age: age, Sex: sexCode, Observed: true}
		if sexCode == observe.MissingValue && age == observe.MissingValue {
			info = Info{}
		}
		f.byVisit[patientID][visitID] = info
	}
	return f, nil
}
