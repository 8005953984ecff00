package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dErrors "mdnorm/pkg/domain-errors"
	"mdnorm/pkg/platform/sentinel"
)

const (
	// DefaultHistoryLimit caps GetHistory when the caller passes no limit.
	DefaultHistoryLimit = 50
	recentActivityLimit = 10
)

// Trail captures audit records. It is append-only and synchronous: the id is
// returned only once the store has accepted the record.
type Trail struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

// WithClock overrides the timestamp source. Tests use it for ordering.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		t.now = now
	}
}

func NewTrail(store Store, opts ...Option) *Trail {
	t := &Trail{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LogChange appends one record, assigning an id and timestamp when absent.
func (t *Trail) LogChange(ctx context.Context, record Record) (string, error) {
	if record.ActionType == "" {
		return "", dErrors.New(dErrors.CodeValidation, "audit record requires an action type")
	}
	if record.TableName == "" {
		return "", dErrors.New(dErrors.CodeValidation, "audit record requires a table name")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = t.now()
	}
	record.Timestamp = record.Timestamp.UTC()

	if err := t.store.Append(ctx, record); err != nil {
		t.logger.ErrorContext(ctx, "audit append failed",
			"action_type", record.ActionType,
			"table", record.TableName,
			"transaction_id", record.TransactionID,
			"error", err,
		)
		return "", fmt.Errorf("append audit record: %w", err)
	}
	return record.ID, nil
}

// LogBatchChange appends a record covering many rows. RecordID is cleared
// and BatchSize is set to the number of changes.
func (t *Trail) LogBatchChange(ctx context.Context, record Record) (string, error) {
	record.RecordID = ""
	if record.Metadata.Changes == nil {
		record.Metadata.Changes = []Change{}
	}
	record.Metadata.BatchSize = len(record.Metadata.Changes)
	if record.Metadata.TransactionID == "" {
		record.Metadata.TransactionID = record.TransactionID
	}
	return t.LogChange(ctx, record)
}

// GetHistory returns records for one row of tableName, including batches
// that itemize it, newest first. A limit of zero or less means
// DefaultHistoryLimit.
func (t *Trail) GetHistory(ctx context.Context, tableName, recordID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records, err := t.store.History(ctx, tableName, recordID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit history")
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// GetBatchDetails returns the itemized changes of a batch record looked up
// by audit id or transaction id.
func (t *Trail) GetBatchDetails(ctx context.Context, id string) ([]Change, error) {
	record, err := t.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		record, err = t.store.FindByTransaction(ctx, id)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit batch not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit batch")
	}
	if record.Kind() != KindBatch {
		return nil, dErrors.New(dErrors.CodeNotFound, "audit record is not a batch")
	}
	return record.Metadata.Changes, nil
}

// StatsFilter narrows Statistics.
type StatsFilter struct {
	UserID string
}

// TimeRange spans the oldest and newest record considered.
type TimeRange struct {
	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}

// Stats summarizes the trail.
type Stats struct {
	TotalLogs          int            `json:"total_logs"`
	CountsByActionType map[string]int `json:"counts_by_action_type"`
	CountsByTableName  map[string]int `json:"counts_by_table_name"`
	RecentActivity     []Record       `json:"recent_activity"`
	TimeRange          TimeRange      `json:"time_range"`
}

// Statistics aggregates the records matching filter.
func (t *Trail) Statistics(ctx context.Context, filter StatsFilter) (*Stats, error) {
	records, err := t.store.List(ctx, Filter{UserID: filter.UserID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit records")
	}

	stats := &Stats{
		TotalLogs:          len(records),
		CountsByActionType: make(map[string]int),
		CountsByTableName:  make(map[string]int),
		RecentActivity:     []Record{},
	}
	for i, r := range records {
		stats.CountsByActionType[r.ActionType]++
		stats.CountsByTableName[r.TableName]++
		if i < recentActivityLimit {
			stats.RecentActivity = append(stats.RecentActivity, r)
		}
		if stats.TimeRange.Oldest.IsZero() || r.Timestamp.Before(stats.TimeRange.Oldest) {
			stats.TimeRange.Oldest = r.Timestamp
		}
		if r.Timestamp.After(stats.TimeRange.Newest) {
			stats.TimeRange.Newest = r.Timestamp
		}
	}
	return stats, nil
}
