package derived

import (
	"math"
	"testing"

	"github.com/JasonZhang2981/PBXAI/internal/domain/demographics"
	"github.com/JasonZhang2981/PBXAI/internal/domain/diagnosis"
	"github.com/JasonZhang2981/PBXAI/internal/domain/mapping"
	"github.com/JasonZhang2981/PBXAI/internal/domain/observe"
	"github.com/JasonZhang2981/PBXAI/internal/domain/procedures"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/domain/vitals"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.FromCache([][]string{
		{"1", "10", "2019-01-01 00:00:00", "2019-01-03 00:00:00", "1900-01-01 00:00:00", "WHITE"},
		{"2", "20", "2019-03-01 00:00:00", "2019-03-02 00:00:00", "1900-01-01 00:00:00", "ASIAN"},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestBMI(t *testing.T) {
	weight := observe.Measurement{Value: 70, Observed: true}
	height := observe.Measurement{Value: 175, Observed: true}
	got := BMI(weight, height)
	if !got.Observed {
		t.Fatal("both inputs observed must yield an observed BMI")
	}
	if math.Abs(got.Value-22.857142857142858) > 1e-9 {
		t.Fatalf("BMI = %v, want 70*10000/175²", got.Value)
	}
}

func TestBMIMissingInput(t *testing.T) {
	weight := observe.Measurement{Value: 70, Observed: true}
	if BMI(weight, observe.Measurement{}).Observed {
		t.Fatal("missing height must yield unobserved BMI")
	}
	if BMI(observe.Measurement{}, observe.Measurement{Value: 175, Observed: true}).Observed {
		t.Fatal("missing weight must yield unobserved BMI")
	}
}

func TestComputeBMIFillsVitals(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()
	chart := func(item, value, unit string) []string {
		row := make([]string, 11)
		row[1], row[2], row[4], row[5], row[9], row[10] = "1", "10", item, "2019-01-01 06:00:00", value, unit
		return row
	}
	v, err := vitals.Extract(reg, source.SliceScanner([][]string{
		chart("920", "175", "cm"),
		chart("763", "70", "kg"),
	}), rec)
	if err != nil {
		t.Fatalf("extract vitals: %v", err)
	}

	ComputeBMI(reg, v)
	bmi := v.Measurement("1", "10", vitals.FeatureBMI)
	if !bmi.Observed || math.Abs(bmi.Value-22.857142857142858) > 1e-9 {
		t.Fatalf("BMI = %+v", bmi)
	}
	if v.Measurement("2", "20", vitals.FeatureBMI).Observed {
		t.Fatal("visit without height and weight keeps BMI unobserved")
	}
}

func TestRiskFactors(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	// Patient 1 is 75 at admission, patient 2 has no demographics row.
	demo, err := demographics.Extract(reg, [][]string{
		{"0", "1", "M", "1944-01-01 00:00:00"},
	}, rec)
	if err != nil {
		t.Fatalf("extract demographics: %v", err)
	}

	chart := func(item, value, unit string) []string {
		row := make([]string, 11)
		row[1], row[2], row[4], row[5], row[9], row[10] = "1", "10", item, "2019-01-01 06:00:00", value, unit
		return row
	}
	v, err := vitals.Extract(reg, source.SliceScanner([][]string{
		chart("920", "170", "cm"),
		chart("763", "80", "kg"),
	}), rec)
	if err != nil {
		t.Fatalf("extract vitals: %v", err)
	}
	ComputeBMI(reg, v)

	pm, err := mapping.LoadProcedureMap([][]string{
		{"PCI", "0066"},
		{"阑尾切除", "470"},
	})
	if err != nil {
		t.Fatalf("load procedure map: %v", err)
	}
	procs, err := procedures.Extract(reg, source.SliceScanner([][]string{
		{"0", "1", "10", "0", "0066"},
	}), pm, rec)
	if err != nil {
		t.Fatalf("extract procedures: %v", err)
	}

	f := RiskFactors(reg, demo, v, procs, DefaultCardiacProcedures)
	if !f.Positive("1", "10", FlagAgeOver40) || !f.Positive("1", "10", FlagAgeOver70) {
		t.Fatal("age 75 must set both age flags")
	}
	// 80kg at 170cm is BMI 27.7, above the 24 threshold.
	if !f.Positive("1", "10", FlagObesity) {
		t.Fatal("BMI above threshold must set the obesity flag")
	}
	if !f.Positive("1", "10", FlagCardiacOpe) {
		t.Fatal("PCI is in the cardiac set and must set the surgery flag")
	}

	// Unresolved demographics and vitals never clear a threshold.
	for _, flag := range f.Features() {
		if f.Positive("2", "20", flag) {
			t.Fatalf("visit with sentinel inputs must keep %s zero", flag)
		}
	}
}

func TestRiskFactorsAgeBoundary(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	// Patient 2 is 41 at admission.
	demo, err := demographics.Extract(reg, [][]string{
		{"0", "2", "M", "1978-01-01 00:00:00"},
	}, rec)
	if err != nil {
		t.Fatalf("extract demographics: %v", err)
	}
	v, err := vitals.Extract(reg, source.SliceScanner(nil), rec)
	if err != nil {
		t.Fatalf("extract vitals: %v", err)
	}
	pm, err := mapping.LoadProcedureMap([][]string{{"PCI", "0066"}})
	if err != nil {
		t.Fatalf("load procedure map: %v", err)
	}
	procs, err := procedures.Extract(reg, source.SliceScanner(nil), pm, rec)
	if err != nil {
		t.Fatalf("extract procedures: %v", err)
	}

	f := RiskFactors(reg, demo, v, procs, DefaultCardiacProcedures)
	if !f.Positive("2", "20", FlagAgeOver40) {
		t.Fatal("age 41 must set the over-40 flag")
	}
	if f.Positive("2", "20", FlagAgeOver70) {
		t.Fatal("age 41 must not set the over-70 flag")
	}
}

func TestRiskFactorsNonCardiacProcedure(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()
	demo, err := demographics.Extract(reg, nil, rec)
	if err != nil {
		t.Fatalf("extract demographics: %v", err)
	}
	v, err := vitals.Extract(reg, source.SliceScanner(nil), rec)
	if err != nil {
		t.Fatalf("extract vitals: %v", err)
	}
	pm, err := mapping.LoadProcedureMap([][]string{
		{"阑尾切除", "470"},
	})
	if err != nil {
		t.Fatalf("load procedure map: %v", err)
	}
	procs, err := procedures.Extract(reg, source.SliceScanner([][]string{
		{"0", "1", "10", "0", "470"},
	}), pm, rec)
	if err != nil {
		t.Fatalf("extract procedures: %v", err)
	}

	f := RiskFactors(reg, demo, v, procs, DefaultCardiacProcedures)
	if f.Positive("1", "10", FlagCardiacOpe) {
		t.Fatal("a procedure outside the cardiac set must not set the flag")
	}
}

func TestFuseDiseaseCategories(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()
	dm, err := mapping.LoadDiagnosisMap([][]string{
		{"", "心房颤动", "", "", "4273"},
		{"", "心肌梗死", "", "", "410"},
	})
	if err != nil {
		t.Fatalf("load diagnosis map: %v", err)
	}
	diag, err := diagnosis.Extract(reg, source.SliceScanner([][]string{
		{"0", "1", "10", "0", "42731"},
	}), dm, rec)
	if err != nil {
		t.Fatalf("extract diagnoses: %v", err)
	}

	f := FuseDiseaseCategories(reg, diag, DefaultDiseaseCategories)
	if !f.Positive("1", "10", "心律失常") {
		t.Fatal("心房颤动 is a candidate of 心律失常")
	}
	if f.Positive("1", "10", "心肌病") {
		t.Fatal("category without a positive candidate must stay zero")
	}
	// A candidate the diagnosis stage never tracked contributes zero, and
	// overlapping candidate sets stay independent.
	if f.Positive("1", "10", "冠状动脉粥样硬化性心脏病") || f.Positive("1", "10", "动脉粥样硬化") {
		t.Fatal("unmatched shared candidates must not set their categories")
	}
	if f.Name() != "disease_category" {
		t.Fatalf("domain name = %q", f.Name())
	}
	if got := len(f.Features()); got != len(DefaultDiseaseCategories) {
		t.Fatalf("feature count = %d, want %d", got, len(DefaultDiseaseCategories))
	}
}

func TestFuseSharedCandidateSetsBothCategories(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()
	dm, err := mapping.LoadDiagnosisMap([][]string{
		{"", "心肌梗死", "", "", "410"},
	})
	if err != nil {
		t.Fatalf("load diagnosis map: %v", err)
	}
	diag, err := diagnosis.Extract(reg, source.SliceScanner([][]string{
		{"0", "1", "10", "0", "41001"},
	}), dm, rec)
	if err != nil {
		t.Fatalf("extract diagnoses: %v", err)
	}

	f := FuseDiseaseCategories(reg, diag, DefaultDiseaseCategories)
	// 心肌梗死 is a candidate of both coronary disease and atherosclerosis.
	if !f.Positive("1", "10", "冠状动脉粥样硬化性心脏病") {
		t.Fatal("shared candidate must set the coronary category")
	}
	if !f.Positive("1", "10", "动脉粥样硬化") {
		t.Fatal("shared candidate must set the atherosclerosis category")
	}
}
