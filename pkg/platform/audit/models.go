package audit

import (
	"context"
	"time"
)

// Kind distinguishes the two record shapes.
type Kind string

const (
	// KindSingle records a change to one identified row.
	KindSingle Kind = "single"
	// KindBatch records many row changes applied together; RecordID is empty
	// and Metadata.Changes itemizes them.
	KindBatch Kind = "batch"
)

// Well-known action types. Category mapping actions are derived from the
// category name, e.g. "STATE_MAPPING_UPDATE".
const (
	ActionRecordCreate = "RECORD_CREATE"
	ActionRecordUpdate = "RECORD_UPDATE"
	ActionRecordDelete = "RECORD_DELETE"
)

// Change is one itemized row change inside a batch record.
type Change struct {
	RecordIdentifier string `json:"record_identifier"`
	OldValue         string `json:"old_value"`
	NewValue         string `json:"new_value"`
}

// Metadata is the open part of a record. Batch records fill Changes,
// BatchSize and TransactionID; Confidence holds scores of auto-selected
// items; Extra carries free-form keys such as the operator's browser.
type Metadata struct {
	Changes       []Change          `json:"changes"`
	BatchSize     int               `json:"batchSize,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	Confidence    map[string]int    `json:"confidence,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Record is one immutable audit entry.
type Record struct {
	ID            string         `json:"id"`
	ActionType    string         `json:"action_type"`
	TableName     string         `json:"table_name"`
	RecordID      string         `json:"record_id,omitempty"` // empty for batch records
	OldValue      map[string]any `json:"old_value,omitempty"`
	NewValue      map[string]any `json:"new_value,omitempty"`
	ChangedBy     string         `json:"changed_by"`
	UserEmail     string         `json:"user_email,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"` // always UTC
	Metadata      Metadata       `json:"metadata"`
}

// Kind reports the record shape.
func (r Record) Kind() Kind {
	if r.RecordID == "" && r.Metadata.Changes != nil {
		return KindBatch
	}
	return KindSingle
}

// Touches reports whether the record concerns recordID, either directly or
// through one of its batch changes.
func (r Record) Touches(recordID string) bool {
	if r.RecordID != "" {
		return r.RecordID == recordID
	}
	for _, c := range r.Metadata.Changes {
		if c.RecordIdentifier == recordID {
			return true
		}
	}
	return false
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	UserID string
}

// Store persists audit records. Implementations return records newest first
// and wrap sentinel.ErrNotFound for missing lookups.
type Store interface {
	Append(ctx context.Context, record Record) error
	FindByID(ctx context.Context, id string) (*Record, error)
	FindByTransaction(ctx context.Context, transactionID string) (*Record, error)
	History(ctx context.Context, tableName, recordID string, limit int) ([]Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// TxRunner is implemented by stores that can group several appends into one
// transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
