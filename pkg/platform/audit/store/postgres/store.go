package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/sentinel"
	txcontext "mdnorm/pkg/platform/tx"
)

// Schema creates the audit_logs table. Batch records keep record_id NULL and
// itemize rows in metadata->'changes'.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id             TEXT PRIMARY KEY,
	action_type    TEXT NOT NULL,
	table_name     TEXT NOT NULL,
	record_id      TEXT,
	old_value      JSONB,
	new_value      JSONB,
	changed_by     TEXT NOT NULL DEFAULT '',
	user_email     TEXT NOT NULL DEFAULT '',
	session_id     TEXT NOT NULL DEFAULT '',
	transaction_id TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	metadata       JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS audit_logs_table_record_idx ON audit_logs (table_name, record_id, created_at DESC);
CREATE INDEX IF NOT EXISTS audit_logs_transaction_idx ON audit_logs (transaction_id);
CREATE INDEX IF NOT EXISTS audit_logs_changes_idx ON audit_logs USING GIN ((metadata->'changes'));
`

const selectColumns = `
	SELECT id, action_type, table_name, record_id, old_value, new_value,
	       changed_by, user_email, session_id, transaction_id, created_at, metadata
	FROM audit_logs
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %v", sentinel.ErrUnavailable, err)
	}
	return db, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit_logs: %w", err)
	}
	return nil
}

// InTx runs fn in one transaction. Appends made through the ctx passed to
// fn commit or roll back together.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts a record. Replays of the same id are ignored.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	oldValue, err := marshalNullable(record.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newValue, err := marshalNullable(record.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, action_type, table_name, record_id, old_value, new_value,
			changed_by, user_email, session_id, transaction_id, created_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		record.ActionType,
		record.TableName,
		nullString(record.RecordID),
		oldValue,
		newValue,
		record.ChangedBy,
		record.UserEmail,
		record.SessionID,
		nullString(record.TransactionID),
		record.Timestamp,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// FindByID returns one record.
func (s *Store) FindByID(ctx context.Context, id string) (*audit.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	return s.scanOne(row, "audit record "+id)
}

// FindByTransaction returns the newest batch record of a transaction.
func (s *Store) FindByTransaction(ctx context.Context, transactionID string) (*audit.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE transaction_id = $1 AND record_id IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, transactionID)
	return s.scanOne(row, "audit transaction "+transactionID)
}

// History returns records of tableName that name recordID directly or list
// it among their batch changes.
func (s *Store) History(ctx context.Context, tableName, recordID string, limit int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE table_name = $1
		  AND (record_id = $2
		       OR (record_id IS NULL
		           AND metadata->'changes' @> jsonb_build_array(jsonb_build_object('record_identifier', $2::text))))
		ORDER BY created_at DESC
		LIMIT $3`, tableName, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

// List returns records newest first, optionally for one user.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE ($1 = '' OR changed_by = $1)
		ORDER BY created_at DESC`, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row scanner, what string) (*audit.Record, error) {
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// scanRecords scans multiple rows into a record slice.
func (s *Store) scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	records := []audit.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func scanRecord(row scanner) (*audit.Record, error) {
	var (
		record        audit.Record
		recordID      sql.NullString
		transactionID sql.NullString
		oldValue      []byte
		newValue      []byte
		metadata      []byte
	)
	err := row.Scan(
		&record.ID,
		&record.ActionType,
		&record.TableName,
		&recordID,
		&oldValue,
		&newValue,
		&record.ChangedBy,
		&record.UserEmail,
		&record.SessionID,
		&transactionID,
		&record.Timestamp,
		&metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	record.RecordID = recordID.String
	record.TransactionID = transactionID.String
	record.Timestamp = record.Timestamp.UTC()
	if err := unmarshalNullable(oldValue, &record.OldValue); err != nil {
		return nil, fmt.Errorf("decode old value: %w", err)
	}
	if err := unmarshalNullable(newValue, &record.NewValue); err != nil {
		return nil, fmt.Errorf("decode new value: %w", err)
	}
	if err := unmarshalNullable(metadata, &record.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
