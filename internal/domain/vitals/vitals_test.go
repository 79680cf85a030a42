package vitals

import (
	"math"
	"testing"

	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
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

// chartRow builds an 11-field chart-event row with the used positions filled.
func chartRow(pid, vid, item, at, value, unit string) []string {
	row := make([]string, 11)
	row[colPatientID] = pid
	row[colVisitID] = vid
	row[colItemID] = item
	row[colChartTime] = at
	row[colValue] = value
	row[colUnit] = unit
	return row
}

func extract(t *testing.T, rows [][]string) (*Features, *audit.Recorder) {
	t.Helper()
	rec := audit.NewRecorder()
	f, err := Extract(testRegistry(t), source.SliceScanner(rows), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f, rec
}

func TestExtractEarliestWins(t *testing.T) {
	f, _ := extract(t, [][]string{
		chartRow("1", "10", "51", "2019-01-02 08:00:00", "120", "mmHg"),
		chartRow("1", "10", "455", "2019-01-01 06:00:00", "135", "mmHg"),
		chartRow("1", "10", "220050", "2019-01-02 20:00:00", "110", "mmHg"),
	})
	m := f.Measurement("1", "10", FeatureSBP)
	if !m.Observed || m.Value != 135 {
		t.Fatalf("systolic = %+v, want earliest value 135", m)
	}
	if v, ok := f.Value("1", "10", FeatureSBP); !ok || v != "135" {
		t.Fatalf("Value = %q, %v; want 135, true", v, ok)
	}
}

func TestExtractBloodPressureUnitGate(t *testing.T) {
	f, rec := extract(t, [][]string{
		chartRow("1", "10", "8368", "2019-01-01 06:00:00", "80", "kPa"),
	})
	if f.Measurement("1", "10", FeatureDBP).Observed {
		t.Fatal("non-mmHg blood pressure must be skipped")
	}
	if n := rec.Summary().Skipped[CacheDomain+"."+audit.ReasonBadUnit]; n != 1 {
		t.Fatalf("bad unit skips = %d, want 1", n)
	}
}

func TestExtractHeightConversion(t *testing.T) {
	f, _ := extract(t, [][]string{
		chartRow("1", "10", "920", "2019-01-01 06:00:00", "70", "Inch"),
	})
	m := f.Measurement("1", "10", FeatureHeight)
	if !m.Observed || math.Abs(m.Value-177.8) > 1e-9 {
		t.Fatalf("height = %+v, want 177.8 cm", m)
	}
}

func TestExtractWeightPoundsConversion(t *testing.T) {
	f, _ := extract(t, [][]string{
		chartRow("1", "10", "763", "2019-01-01 06:00:00", "150", "lbs"),
	})
	m := f.Measurement("1", "10", FeatureWeight)
	if !m.Observed || math.Abs(m.Value-68.0388) > 1e-9 {
		t.Fatalf("weight = %+v, want 68.0388 kg", m)
	}
}

func TestExtractItem226531UnitHandling(t *testing.T) {
	// A kg tag wins; any other tag on item 226531 is read as pounds.
	f, _ := extract(t, [][]string{
		chartRow("1", "10", "226531", "2019-01-01 06:00:00", "80", "kg"),
	})
	m := f.Measurement("1", "10", FeatureWeight)
	if !m.Observed || math.Abs(m.Value-80) > 1e-9 {
		t.Fatalf("kg-tagged 226531 weight = %+v, want 80", m)
	}

	f, _ = extract(t, [][]string{
		chartRow("1", "10", "226531", "2019-01-01 06:00:00", "150", ""),
	})
	m = f.Measurement("1", "10", FeatureWeight)
	if !m.Observed || math.Abs(m.Value-68.0388) > 1e-9 {
		t.Fatalf("untagged 226531 weight = %+v, want the pounds reading 68.0388", m)
	}
}

func TestExtractRangeGates(t *testing.T) {
	f, rec := extract(t, [][]string{
		chartRow("1", "10", "920", "2019-01-01 06:00:00", "250", "cm"),
		chartRow("1", "10", "763", "2019-01-01 06:00:00", "20", "kg"),
	})
	if f.Measurement("1", "10", FeatureHeight).Observed {
		t.Fatal("height at the exclusive upper bound must be rejected")
	}
	if f.Measurement("1", "10", FeatureWeight).Observed {
		t.Fatal("weight at the exclusive lower bound must be rejected")
	}
	if n := rec.Summary().Skipped[CacheDomain+"."+audit.ReasonOutOfRange]; n != 2 {
		t.Fatalf("out of range skips = %d, want 2", n)
	}
}

func TestExtractSkipsMalformedAndOrphanRows(t *testing.T) {
	f, rec := extract(t, [][]string{
		{"0", "1", "10"},
		chartRow("9", "99", "51", "2019-01-01 06:00:00", "120", "mmHg"),
		chartRow("1", "10", "51", "2019-01", "120", "mmHg"),
		chartRow("1", "10", "51", "2019-01-01 06:00:00", "n/a", "mmHg"),
		chartRow("1", "10", "51", "not a valid date", "120", "mmHg"),
	})
	if f.Measurement("1", "10", FeatureSBP).Observed {
		t.Fatal("no valid row was offered")
	}
	got := rec.Summary().Skipped
	for reason, want := range map[string]int64{
		audit.ReasonShortRow:     1,
		audit.ReasonOrphanVisit:  1,
		audit.ReasonShortField:   1,
		audit.ReasonBadValue:     1,
		audit.ReasonBadTimestamp: 1,
	} {
		if got[CacheDomain+"."+reason] != want {
			t.Fatalf("%s skips = %d, want %d", reason, got[CacheDomain+"."+reason], want)
		}
	}
}

func TestUnknownItemIgnoredSilently(t *testing.T) {
	_, rec := extract(t, [][]string{
		chartRow("1", "10", "999999", "2019-01-01 06:00:00", "42", "units"),
	})
	if n := len(rec.Summary().Skipped); n != 0 {
		t.Fatalf("untracked items are not skips, got %v", rec.Summary().Skipped)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	f, _ := extract(t, [][]string{
		chartRow("1", "10", "455", "2019-01-01 06:00:00", "135", "mmHg"),
		chartRow("1", "10", "763", "2019-01-01 06:00:00", "80", "kg"),
	})

	restored, err := FromCache(f.CacheRows(reg))
	if err != nil {
		t.Fatalf("from cache: %v", err)
	}
	for _, feature := range featureList() {
		orig := f.Measurement("1", "10", feature)
		back := restored.Measurement("1", "10", feature)
		if orig.Observed != back.Observed || orig.Value != back.Value {
			t.Fatalf("%s: round trip %+v != %+v", feature, back, orig)
		}
	}
	if restored.Measurement("2", "20", FeatureWeight).Observed {
		t.Fatal("sentinel rows must restore as unobserved")
	}

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
