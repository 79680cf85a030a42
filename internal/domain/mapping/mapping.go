// Package mapping builds the lookups from raw source codes and name tokens to
// canonical feature names. Every map is built once per run from its mapping
// source and read-only afterwards. Matching semantics differ by domain:
// procedures match codes exactly, diagnoses by substring containment of the
// map code inside the observed ICD code, medications by keyword fragments
// inside the concatenated order fields, and the lab vocabulary is discovered
// by frequency from the raw event file itself.
package mapping

import (
	"fmt"
	"sort"
	"strings"
)

// ProcedureMap maps an exact procedure code to its canonical name.
type ProcedureMap struct {
	byCode map[string]string
	names  []string
}

// LoadProcedureMap reads header-skipped (name, code, ...) rows. Canonical
// names keep the order of first appearance in the mapping file.
func LoadProcedureMap(rows [][]string) (*ProcedureMap, error) {
	m := &ProcedureMap{byCode: make(map[string]string)}
	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("procedure map row %d: %d fields, want at least 2", i+1, len(row))
		}
		name, code := row[0], row[1]
		m.byCode[code] = name
		if !seen[name] {
			seen[name] = true
			m.names = append(m.names, name)
		}
	}
	return m, nil
}

// Lookup resolves an exact code match.
func (m *ProcedureMap) Lookup(code string) (string, bool) {
	name, ok := m.byCode[code]
	return name, ok
}

func (m *ProcedureMap) Names() []string {
	return m.names
}

// DiagnosisMatcher maps observed ICD codes to canonical disease names by
// substring containment: a map code "428" claims every ICD code containing
// it, giving prefix-style grouping. One ICD code can satisfy several entries.
type DiagnosisMatcher struct {
	entries []diagEntry
	names   []string
}

type diagEntry struct {
	name string
	code string
}

// LoadDiagnosisMap reads header-skipped rows with the disease name in field 1
// and the map code in field 4.
func LoadDiagnosisMap(rows [][]string) (*DiagnosisMatcher, error) {
	m := &DiagnosisMatcher{}
	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("diagnosis map row %d: %d fields, want at least 5", i+1, len(row))
		}
		name, code := row[1], row[4]
		m.entries = append(m.entries, diagEntry{name: name, code: code})
		if !seen[name] {
			seen[name] = true
			m.names = append(m.names, name)
		}
	}
	return m, nil
}

// Match returns every canonical disease name whose map code is contained in
// the observed ICD code.
func (m *DiagnosisMatcher) Match(icdCode string) []string {
	var names []string
	for _, e := range m.entries {
		if strings.Contains(icdCode, e.code) {
			names = append(names, e.name)
		}
	}
	return names
}

func (m *DiagnosisMatcher) Names() []string {
	return m.names
}

// KeywordMap maps medication categories to lowercase keyword fragments. One
// order token may satisfy multiple keywords and sets every matching category.
type KeywordMap struct {
	keywords   []string
	categories map[string][]string // keyword -> categories
	names      []string
}

// LoadMedicationMap reads (category, _, keyword) rows. The medication mapping
// file carries no header row. Category names keep first-appearance order.
func LoadMedicationMap(rows [][]string) (*KeywordMap, error) {
	m := &KeywordMap{categories: make(map[string][]string)}
	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("medication map row %d: %d fields, want at least 3", i+1, len(row))
		}
		category, keyword := row[0], strings.ToLower(row[2])
		if _, ok := m.categories[keyword]; !ok {
			m.keywords = append(m.keywords, keyword)
		}
		m.categories[keyword] = append(m.categories[keyword], category)
		if !seen[category] {
			seen[category] = true
			m.names = append(m.names, category)
		}
	}
	return m, nil
}

// Match returns the categories of every keyword contained in the lowercased
// order token. Matching only ever sets a category positive.
func (m *KeywordMap) Match(token string) []string {
	var cats []string
	for _, kw := range m.keywords {
		if strings.Contains(token, kw) {
			cats = append(cats, m.categories[kw]...)
		}
	}
	return cats
}

func (m *KeywordMap) Categories() []string {
	return m.names
}

// CodeCounter tallies raw code occurrences for the frequency-discovered lab
// vocabulary.
type CodeCounter map[string]int

func (c CodeCounter) Add(code string) {
	c[code]++
}

// Vocabulary selects the codes seen at least minCount times, sorted for a
// deterministic column order. Codes below threshold are dropped entirely, not
// aggregated.
func (c CodeCounter) Vocabulary(minCount int) []string {
	var codes []string
	for code, n := range c {
		if n >= minCount {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// LoadLabDictionary reads the lab code-name dictionary (code in field 1,
// fluid and label in fields 2-3); the canonical feature name is
// "<fluid>_<label>".
func LoadLabDictionary(rows [][]string) (map[string]string, error) {
	dict := make(map[string]string)
	for i, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("lab dictionary row %d: %d fields, want at least 4", i+1, len(row))
		}
		dict[row[1]] = row[2] + "_" + row[3]
	}
	return dict, nil
}
