// Package sqlite keeps the audit trail in a local SQLite file. It backs
// deployments that have no PostgreSQL but still need the trail to survive a
// restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/sentinel"
	txcontext "mdnorm/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id             TEXT PRIMARY KEY,
	action_type    TEXT NOT NULL,
	table_name     TEXT NOT NULL,
	record_id      TEXT,
	old_value      TEXT,
	new_value      TEXT,
	changed_by     TEXT NOT NULL DEFAULT '',
	user_email     TEXT NOT NULL DEFAULT '',
	session_id     TEXT NOT NULL DEFAULT '',
	transaction_id TEXT,
	created_at     INTEGER NOT NULL,
	metadata       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS audit_logs_table_record_idx ON audit_logs (table_name, record_id, created_at);
CREATE INDEX IF NOT EXISTS audit_logs_transaction_idx ON audit_logs (transaction_id);
`

const selectColumns = `
	SELECT id, action_type, table_name, record_id, old_value, new_value,
	       changed_by, user_email, session_id, transaction_id, created_at, metadata
	FROM audit_logs
`

// Store implements audit.Store on SQLite. Timestamps are stored as unix
// nanoseconds so ordering is exact.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; SQLite serializes anyway and this keeps :memory: on a single connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite audit_logs: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
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

func (s *Store) Append(ctx context.Context, record audit.Record) error {
	if record.ID == "" {
		return fmt.Errorf("append audit record: %w: missing id", sentinel.ErrInvalidInput)
	}
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

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_logs (
			id, action_type, table_name, record_id, old_value, new_value,
			changed_by, user_email, session_id, transaction_id, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		record.Timestamp.UTC().UnixNano(),
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*audit.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	return record, err
}

func (s *Store) FindByTransaction(ctx context.Context, transactionID string) (*audit.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE transaction_id = ? AND record_id IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, transactionID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit transaction %s: %w", transactionID, sentinel.ErrNotFound)
	}
	return record, err
}

// History matches batch records through json_each over metadata.changes.
func (s *Store) History(ctx context.Context, tableName, recordID string, limit int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE table_name = ?
		  AND (record_id = ?
		       OR (record_id IS NULL AND EXISTS (
		           SELECT 1 FROM json_each(audit_logs.metadata, '$.changes') AS c
		           WHERE json_extract(c.value, '$.record_identifier') = ?)))
		ORDER BY created_at DESC
		LIMIT ?`, tableName, recordID, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE (? = '' OR changed_by = ?)
		ORDER BY created_at DESC`, filter.UserID, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
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
		oldValue      sql.NullString
		newValue      sql.NullString
		createdAt     int64
		metadata      string
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
		&createdAt,
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
	record.Timestamp = time.Unix(0, createdAt).UTC()
	if oldValue.Valid {
		if err := json.Unmarshal([]byte(oldValue.String), &record.OldValue); err != nil {
			return nil, fmt.Errorf("decode old value: %w", err)
		}
	}
	if newValue.Valid {
		if err := json.Unmarshal([]byte(newValue.String), &record.NewValue); err != nil {
			return nil, fmt.Errorf("decode new value: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalNullable(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
