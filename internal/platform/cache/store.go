// Package cache persists resolved per-visit feature dictionaries as flat rows
// keyed by domain name. The engine must produce identical in-memory structures
// whether it is fed raw source rows or previously cached rows, so the store is
// deliberately dumb: ordered string rows in, ordered string rows out.
package cache

import "context"

// Store is a key-value persistence layer keyed by domain name. Rows are flat
// (patient_id, visit_id, feature, value[, timestamp]) records; the header
// describes the columns but is not interpreted by the store.
type Store interface {
	Write(ctx context.Context, domain string, header []string, rows [][]string) error
	Read(ctx context.Context, domain string) ([][]string, error)
	Exists(ctx context.Context, domain string) (bool, error)
}
