package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"mdnorm/internal/records"
	"mdnorm/pkg/platform/sentinel"
)

// Store is an in-memory records.Store for tests and local runs. Rows are
// kept in insertion order per table.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]records.Row
}

func New() *Store {
	return &Store{tables: make(map[string][]records.Row)}
}

// Seed replaces the contents of table.
func (s *Store) Seed(table string, rows ...records.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]records.Row, 0, len(rows))
	for _, r := range rows {
		copied = append(copied, maps.Clone(r))
	}
	s.tables[table] = copied
}

func (s *Store) Query(_ context.Context, table string, filter records.Filter) ([]records.Row, error) {
	if table == "" {
		return nil, fmt.Errorf("query: %w: empty table name", sentinel.ErrInvalidInput)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []records.Row{}
	for _, row := range s.tables[table] {
		if records.Matches(row, filter) {
			out = append(out, maps.Clone(row))
		}
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, table string, filter records.Filter, values map[string]any) (int64, error) {
	if table == "" {
		return 0, fmt.Errorf("update: %w: empty table name", sentinel.ErrInvalidInput)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("update %s: %w: no values", table, sentinel.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.tables[table] {
		if !records.Matches(row, filter) {
			continue
		}
		maps.Copy(row, values)
		n++
	}
	return n, nil
}

func (s *Store) Insert(_ context.Context, table string, rows []records.Row) (int64, error) {
	if table == "" {
		return 0, fmt.Errorf("insert: %w: empty table name", sentinel.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], maps.Clone(r))
	}
	return int64(len(rows)), nil
}
