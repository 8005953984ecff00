// Package records defines the storage contract the normalization engine
// edits through. The engine never assumes SQL: any Store that honours
// equality filters works.
package records

import (
	"context"
	"fmt"
	"strings"

	pstrings "mdnorm/pkg/platform/strings"
)

// Row is one record keyed by column name.
type Row map[string]any

// Filter selects rows whose columns equal every given value. An empty filter
// matches all rows.
type Filter map[string]any

// Store is the persistent record store.
type Store interface {
	Query(ctx context.Context, table string, filter Filter) ([]Row, error)
	Update(ctx context.Context, table string, filter Filter, values map[string]any) (int64, error)
	Insert(ctx context.Context, table string, rows []Row) (int64, error)
}

// DistinctLister is implemented by stores that can list distinct column
// values without loading whole rows.
type DistinctLister interface {
	Distinct(ctx context.Context, table, column string) ([]string, error)
}

// DistinctValues returns the non-blank raw labels of column, in the order the
// store yields them. These are the labels the matcher normalizes.
func DistinctValues(ctx context.Context, store Store, table, column string) ([]string, error) {
	if l, ok := store.(DistinctLister); ok {
		values, err := l.Distinct(ctx, table, column)
		if err != nil {
			return nil, fmt.Errorf("list distinct %s.%s: %w", table, column, err)
		}
		return pstrings.Dedupe(values), nil
	}

	rows, err := store.Query(ctx, table, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		v, ok := row[column].(string)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		values = append(values, v)
	}
	return pstrings.Dedupe(values), nil
}

// Matches reports whether row satisfies filter.
func Matches(row Row, filter Filter) bool {
	for column, want := range filter {
		if row[column] != want {
			return false
		}
	}
	return true
}
