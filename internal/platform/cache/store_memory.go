package cache

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore is an in-process store used by tests and dry runs.
type memoryStore struct {
	mu      sync.Mutex
	domains map[string]entry
}

type entry struct {
	header []string
	rows   [][]string
}

func NewMemory() Store {
	return &memoryStore{domains: make(map[string]entry)}
}

func (s *memoryStore) Write(_ context.Context, domain string, header []string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append([]string(nil), header...)
	rs := make([][]string, len(rows))
	for i, row := range rows {
		rs[i] = append([]string(nil), row...)
	}
	s.domains[domain] = entry{header: h, rows: rs}
	return nil
}

func (s *memoryStore) Read(_ context.Context, domain string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.domains[domain]
	if !ok {
		return nil, fmt.Errorf("cache read %s: domain not cached", domain)
	}
	rows := make([][]string, len(e.rows))
	for i, row := range e.rows {
		rows[i] = append([]string(nil), row...)
	}
	return rows, nil
}

func (s *memoryStore) Exists(_ context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.domains[domain]
	return ok, nil
}
