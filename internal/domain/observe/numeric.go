package observe

import (
	"regexp"
	"strconv"
	"strings"
)

// numberPattern matches the first number embedded in a free-text lab result,
// tolerating a sign, thousands separators, and scientific notation.
var numberPattern = regexp.MustCompile(`[-+]?[\d]+(?:,\d\d\d)*[.]?\d*(?:[eE][-+]?\d+)?`)

// FormatValue renders a numeric feature value for a serialization boundary
// (cache rows, the output matrix). The 'g' format round-trips through
// ParseFloat without loss.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ExtractNumber scans free text for its first embedded number. Returns false
// when no number parses; the caller keeps the raw string in that case.
func ExtractNumber(s string) (float64, bool) {
	match := numberPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	match = strings.ReplaceAll(match, ",", "")
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
