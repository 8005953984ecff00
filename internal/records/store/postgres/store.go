package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mdnorm/internal/records"
	"mdnorm/pkg/platform/sentinel"
)

// Store implements records.Store on PostgreSQL through a pgx pool. Table and
// column names are quoted with pgx.Identifier; values are always bound.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w: %v", sentinel.ErrUnavailable, err)
	}
	return pool, nil
}

func (s *Store) Query(ctx context.Context, table string, filter records.Filter) ([]records.Row, error) {
	where, args := whereClause(filter, 1)
	query := "SELECT * FROM " + ident(table) + where
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(fmt.Sprintf("query %s", table), err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate(fmt.Sprintf("collect %s", table), err)
	}
	out := make([]records.Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, records.Row(m))
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, table string, filter records.Filter, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("update %s: %w: no values", table, sentinel.ErrInvalidInput)
	}
	columns := sortedKeys(values)
	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+len(filter))
	for i, c := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c), i+1))
		args = append(args, values[c])
	}
	where, whereArgs := whereClause(filter, len(columns)+1)
	args = append(args, whereArgs...)

	query := "UPDATE " + ident(table) + " SET " + strings.Join(sets, ", ") + where
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, translate(fmt.Sprintf("update %s", table), err)
	}
	return tag.RowsAffected(), nil
}

// Insert sends one INSERT per row in a single batch round trip.
func (s *Store) Insert(ctx context.Context, table string, rows []records.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		columns := sortedKeys(row)
		quoted := make([]string, 0, len(columns))
		placeholders := make([]string, 0, len(columns))
		args := make([]any, 0, len(columns))
		for i, c := range columns {
			quoted = append(quoted, ident(c))
			placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
			args = append(args, row[c])
		}
		batch.Queue(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", ")), args...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return inserted, translate(fmt.Sprintf("insert %s", table), err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// Distinct lists non-blank values of column without loading whole rows.
func (s *Store) Distinct(ctx context.Context, table, column string) ([]string, error) {
	col := ident(column)
	query := fmt.Sprintf(
		"SELECT DISTINCT %[1]s::text FROM %[2]s WHERE %[1]s IS NOT NULL AND btrim(%[1]s::text) <> '' ORDER BY 1",
		col, ident(table))
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, translate(fmt.Sprintf("distinct %s.%s", table, column), err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, translate(fmt.Sprintf("distinct %s.%s", table, column), err)
	}
	return values, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func whereClause(filter records.Filter, first int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	columns := sortedKeys(filter)
	conds := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, c := range columns {
		conds = append(conds, fmt.Sprintf("%s = $%d", ident(c), first+i))
		args = append(args, filter[c])
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// translate maps undefined table/column errors to sentinel.ErrInvalidInput
// and connection failures to sentinel.ErrUnavailable.
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42703":
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrInvalidInput, pgErr.Message)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
