// Package derived computes secondary features from already-resolved primary
// ones: BMI, boolean risk flags, and disease-category fusion. Every function
// here is pure over its inputs and assumes upstream validation already ran;
// there is no unit re-checking at this stage.
package derived

import (
	"strconv"

	"github.com/JasonZhang2981/PBXAI/internal/domain/demographics"
	"github.com/JasonZhang2981/PBXAI/internal/domain/diagnosis"
	"github.com/JasonZhang2981/PBXAI/internal/domain/observe"
	"github.com/JasonZhang2981/PBXAI/internal/domain/procedures"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/domain/vitals"
)

// Risk flag feature names.
const (
	FlagAgeOver40  = "年龄>40"
	FlagAgeOver70  = "年龄>70"
	FlagObesity    = "肥胖"
	FlagCardiacOpe = "心脏手术"
)

// BMIObesityThreshold is deliberately lower than the clinical standard.
const BMIObesityThreshold = 24.0

// DefaultCardiacProcedures is the named procedure set feeding the 心脏手术
// flag.
var DefaultCardiacProcedures = []string{
	"PCI", "CABG", "瓣膜手术", "除颤器", "心脏再同步化治疗", "起搏器",
}

// DiseaseCategory is one fusion target: the category flag is the logical OR
// over its candidate diagnoses. Candidate sets may overlap across categories;
// the overlap is intentional.
type DiseaseCategory struct {
	Name       string
	Candidates []string
}

// DefaultDiseaseCategories are the five fixed fusion targets.
var DefaultDiseaseCategories = []DiseaseCategory{
	{Name: "心律失常", Candidates: []string{
		"窦性心动过速", "窦性心动过缓", "窦性心律不齐", "窦性停搏", "窦房传导阻滞",
		"病态窦房结综合征", "房性期前收缩", "房性心动过速", "心房扑动", "心房颤动",
		"预激综合征", "室性期前收缩", "室性心动过速", "房室阻滞",
	}},
	{Name: "心肌病", Candidates: []string{
		"扩张型心肌病", "肥厚型心肌病", "限制型心肌病", "心肌炎",
	}},
	{Name: "冠状动脉粥样硬化性心脏病", Candidates: []string{
		"心肌梗死", "缺血性心肌病", "心绞痛",
	}},
	{Name: "动脉粥样硬化", Candidates: []string{
		"周围动脉病", "心肌梗死", "缺血性心肌病", "心绞痛",
	}},
	{Name: "心脏瓣膜病", Candidates: []string{
		"二尖瓣狭窄", "二尖瓣关闭不全", "主动脉瓣狭窄", "主动脉瓣关闭不全",
		"三尖瓣关闭不全", "肺动脉瓣关闭不全",
	}},
}

// BMI computes weight*10000/height² when both inputs are observed.
func BMI(weight, height observe.Measurement) observe.Measurement {
	if !weight.Observed || !height.Observed {
		return observe.Measurement{}
	}
	return observe.Measurement{
		Value:    weight.Value * 10000 / height.Value / height.Value,
		Observed: true,
	}
}

// ComputeBMI fills the BMI feature for every visit from the resolved height
// and weight.
func ComputeBMI(reg *registry.Registry, v *vitals.Features) {
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			weight := v.Measurement(patientID, visitID, vitals.FeatureWeight)
			height := v.Measurement(patientID, visitID, vitals.FeatureHeight)
			v.Set(patientID, visitID, vitals.FeatureBMI, BMI(weight, height))
		}
	}
}

// Flags holds boolean 0/1 derived features for every visit.
type Flags struct {
	domain  string
	names   []string
	byVisit map[string]map[string]map[string]int
}

func newFlags(reg *registry.Registry, domain string, names []string) *Flags {
	f := &Flags{domain: domain, names: names, byVisit: make(map[string]map[string]map[string]int)}
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

func (f *Flags) set(patientID, visitID, name string) {
	f.byVisit[patientID][visitID][name] = 1
}

// Positive reports whether the flag is set for the visit.
func (f *Flags) Positive(patientID, visitID, name string) bool {
	return f.byVisit[patientID][visitID][name] == 1
}

func (f *Flags) Name() string { return f.domain }

func (f *Flags) Features() []string { return f.names }

func (f *Flags) Value(patientID, visitID, feature string) (string, bool) {
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

// RiskFactors derives the per-visit risk flags. Sentinel inputs (missing age
// or BMI) never exceed a threshold, so unresolved visits keep all-zero flags.
func RiskFactors(reg *registry.Registry, demo *demographics.Features, v *vitals.Features, procs *procedures.Features, cardiacSet []string) *Flags {
	f := newFlags(reg, "risk_factor", []string{FlagAgeOver40, FlagAgeOver70, FlagObesity, FlagCardiacOpe})
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			info := demo.Info(patientID, visitID)
			if info.Observed && info.Age > 40 {
				f.set(patientID, visitID, FlagAgeOver40)
			}
			if info.Observed && info.Age > 70 {
				f.set(patientID, visitID, FlagAgeOver70)
			}
			bmi := v.Measurement(patientID, visitID, vitals.FeatureBMI)
			if bmi.Observed && bmi.Value > BMIObesityThreshold {
				f.set(patientID, visitID, FlagObesity)
			}
			for _, name := range cardiacSet {
				if procs.Positive(patientID, visitID, name) {
					f.set(patientID, visitID, FlagCardiacOpe)
					break
				}
			}
		}
	}
	return f
}

// FuseDiseaseCategories ORs candidate diagnoses into their categories. A
// candidate absent from the diagnosis feature set simply contributes zero.
func FuseDiseaseCategories(reg *registry.Registry, diag *diagnosis.Features, categories []DiseaseCategory) *Flags {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	f := newFlags(reg, "disease_category", names)
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			for _, c := range categories {
				for _, candidate := range c.Candidates {
					if diag.Positive(patientID, visitID, candidate) {
						f.set(patientID, visitID, c.Name)
						break
					}
				}
			}
		}
	}
	return f
}
