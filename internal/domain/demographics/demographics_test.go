package demographics

import (
	"testing"

	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.FromCache([][]string{
		{"1", "10", "2019-01-01 00:00:00", "2019-01-03 00:00:00", "1900-01-01 00:00:00", "WHITE"},
		{"1", "11", "2020-01-01 00:00:00", "2020-01-05 00:00:00", "1900-01-01 00:00:00", "WHITE"},
		{"2", "20", "2019-03-01 00:00:00", "2019-03-02 00:00:00", "1900-01-01 00:00:00", "ASIAN"},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func patientRow(id, sex, birthday string) []string {
	return []string{"0", id, sex, birthday}
}

func TestExtractAgePerVisit(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	f, err := Extract(reg, [][]string{
		patientRow("1", "F", "1979-01-01 00:00:00"),
	}, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1979-01-01 to 2019-01-01 spans 14610 whole days.
	first := f.Info("1", "10")
	if !first.Observed {
		t.Fatal("expected visit 10 observed")
	}
	want := 14610.0 / 365
	if first.Age != want {
		t.Fatalf("visit 10 age = %v, want %v", first.Age, want)
	}
	if first.Sex != SexFemale {
		t.Fatalf("visit 10 sex = %d, want %d", first.Sex, SexFemale)
	}

	// Age is recomputed per visit from that visit's admission time.
	second := f.Info("1", "11")
	if second.Age <= first.Age {
		t.Fatalf("later visit age %v should exceed earlier visit age %v", second.Age, first.Age)
	}
}

func TestExtractBirthAfterAdmissionFloorsDays(t *testing.T) {
	// De-identified sources shift very old birth dates past admission.
	// Admission 2019-01-01, birth 36h later: -1.5 days floors to -2.
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	f, err := Extract(reg, [][]string{
		patientRow("1", "F", "2019-01-02 12:00:00"),
	}, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := f.Info("1", "10")
	if !info.Observed {
		t.Fatal("expected visit 10 observed")
	}
	if want := -2.0 / 365; info.Age != want {
		t.Fatalf("visit 10 age = %v, want %v", info.Age, want)
	}
}

func TestExtractUnknownPatientStaysUnobserved(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	f, err := Extract(reg, [][]string{
		patientRow("1", "M", "1980-01-01 00:00:00"),
	}, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := f.Info("2", "20")
	if info.Observed {
		t.Fatal("patient 2 has no demographics row and must stay unobserved")
	}
	if v, ok := f.Value("2", "20", FeatureAge); !ok || v != "-1" {
		t.Fatalf("unobserved age = %q, %v; want -1, true", v, ok)
	}
	if v, ok := f.Value("2", "20", FeatureSex); !ok || v != "-1" {
		t.Fatalf("unobserved sex = %q, %v; want -1, true", v, ok)
	}
}

func TestExtractInvalidSexCodeAborts(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	_, err := Extract(reg, [][]string{
		patientRow("1", "X", "1980-01-01 00:00:00"),
	}, rec)
	if err == nil {
		t.Fatal("expected error for unrecognized sex code")
	}
}

func TestExtractSkipsMalformedRows(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	f, err := Extract(reg, [][]string{
		{"0", "1"},
		patientRow("1", "F", "1980"),
		patientRow("1", "F", "not a date xx"),
		patientRow("9", "F", "1980-01-01 00:00:00"),
	}, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Info("1", "10").Observed {
		t.Fatal("malformed rows must not resolve demographics")
	}

	got := rec.Summary().Skipped
	if got[CacheDomain+"."+audit.ReasonShortRow] != 1 {
		t.Fatalf("short row skips = %d, want 1", got[CacheDomain+"."+audit.ReasonShortRow])
	}
	if got[CacheDomain+"."+audit.ReasonShortField] != 1 {
		t.Fatalf("short field skips = %d, want 1", got[CacheDomain+"."+audit.ReasonShortField])
	}
	if got[CacheDomain+"."+audit.ReasonBadTimestamp] != 1 {
		t.Fatalf("bad timestamp skips = %d, want 1", got[CacheDomain+"."+audit.ReasonBadTimestamp])
	}
	if got[CacheDomain+"."+audit.ReasonOrphanVisit] != 1 {
		t.Fatalf("orphan skips = %d, want 1", got[CacheDomain+"."+audit.ReasonOrphanVisit])
	}
}

func TestCacheRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	rec := audit.NewRecorder()

	f, err := Extract(reg, [][]string{
		patientRow("1", "M", "1975-06-15 00:00:00"),
	}, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored, err := FromCache(f.CacheRows(reg))
	if err != nil {
		t.Fatalf("from cache: %v", err)
	}
	for _, patientID := range reg.Patients() {
		for _, visitID := range reg.VisitIDs(patientID) {
			if restored.Info(patientID, visitID) != f.Info(patientID, visitID) {
				t.Fatalf("visit %s/%s: cache round trip mismatch", patientID, visitID)
			}
		}
	}
	// Re-serializing the restored state reproduces the same rows.
	a, b := f.CacheRows(reg), restored.CacheRows(reg)
	if len(a) != len(b) {
		t.Fatalf("row count %d != %d", len(a), len(b))
	}
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("row %d field %d: %q != %q", i, j, a[i][j], b[i][j])
			}
		}
	}
}
