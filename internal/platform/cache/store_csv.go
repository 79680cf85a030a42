package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

// csvStore keeps one <domain>.csv file per domain under a cache directory,
// BOM-prefixed with a header row.
type csvStore struct {
	dir string
}

func NewCSV(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &csvStore{dir: dir}, nil
}

func (s *csvStore) path(domain string) string {
	return filepath.Join(s.dir, domain+".csv")
}

func (s *csvStore) Write(_ context.Context, domain string, header []string, rows [][]string) error {
	if err := source.WriteTable(s.path(domain), header, rows); err != nil {
		return fmt.Errorf("cache write %s: %w", domain, err)
	}
	return nil
}

func (s *csvStore) Read(_ context.Context, domain string) ([][]string, error) {
	rows, err := source.ReadTable(s.path(domain))
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", domain, err)
	}
	return rows, nil
}

func (s *csvStore) Exists(_ context.Context, domain string) (bool, error) {
	_, err := os.Stat(s.path(domain))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
