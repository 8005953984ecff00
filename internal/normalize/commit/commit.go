// Package commit applies a validated set of label mappings to the record
// store and writes one batch audit record for it.
//
// A commit is best effort, not a database transaction: every mapping is
// attempted independently, a failed row update is reported per item, and an
// audit write failure never undoes updates that already happened.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"mdnorm/internal/normalize/metrics"
	"mdnorm/internal/normalize/models"
	"mdnorm/internal/records"
	dErrors "mdnorm/pkg/domain-errors"
	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/sentinel"
)

var tracer = otel.Tracer("mdnorm/internal/normalize/commit")

const (
	defaultLockTTL      = 2 * time.Minute
	defaultAuditTimeout = 10 * time.Second
)

// AuditLogger is the part of audit.Trail a commit needs.
type AuditLogger interface {
	LogBatchChange(ctx context.Context, record audit.Record) (string, error)
}

// Locker serializes commits of one category across processes. Acquire fails
// with sentinel.ErrConflict while another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Target is where a category's raw labels live in the record store.
type Target struct {
	Table  string
	Column string
}

// DefaultTargets maps each category to its column on the influencers table.
func DefaultTargets() map[models.Category]Target {
	return map[models.Category]Target{
		models.CategoryState: {Table: "influencers", Column: "state"},
		models.CategoryCity:  {Table: "influencers", Column: "city"},
	}
}

// AuditContext identifies who committed. UserAgent and ClientIP are optional
// and only enrich the audit metadata.
type AuditContext struct {
	UserID    string
	UserEmail string
	SessionID string
	UserAgent string
	ClientIP  string
}

// Status of one mapping in a commit.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusSkipped marks mappings never attempted because the caller's
	// context ended first. They are left out of the audit record.
	StatusSkipped Status = "skipped"
)

// MappingResult is the outcome of one mapping.
type MappingResult struct {
	RawLabel      string `json:"raw_label"`
	ProposedLabel string `json:"proposed_label"`
	UpdatedCount  int64  `json:"updated_count"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Result summarizes a commit. Success is false only when the audit write
// failed or every attempted mapping failed.
type Result struct {
	Success       bool            `json:"success"`
	TotalUpdated  int64           `json:"total_updated"`
	TransactionID string          `json:"transaction_id"`
	AuditID       string          `json:"audit_id,omitempty"`
	AuditWarning  bool            `json:"audit_warning"`
	AuditErr      error           `json:"-"`
	PerMapping    []MappingResult `json:"per_mapping"`
}

// Committer runs bulk commits.
type Committer struct {
	store        records.Store
	auditLog     AuditLogger
	targets      map[models.Category]Target
	locker       Locker
	lockTTL      time.Duration
	concurrency  int
	itemTimeout  time.Duration
	auditTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	newID        func() string
}

type Option func(*Committer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Committer) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Committer) {
		c.metrics = m
	}
}

// WithLocker enables the per-category commit lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(c *Committer) {
		c.locker = l
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithConcurrency bounds parallel row updates. The default of 1 applies
// mappings sequentially in input order.
func WithConcurrency(n int) Option {
	return func(c *Committer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithItemTimeout bounds each row update. A timed-out update is a failed
// mapping; the commit continues.
func WithItemTimeout(d time.Duration) Option {
	return func(c *Committer) {
		c.itemTimeout = d
	}
}

// WithTarget overrides where a category is stored.
func WithTarget(category models.Category, t Target) Option {
	return func(c *Committer) {
		c.targets[category] = t
	}
}

// WithIDGenerator replaces uuid transaction ids. Tests use it.
func WithIDGenerator(fn func() string) Option {
	return func(c *Committer) {
		c.newID = fn
	}
}

func New(store records.Store, auditLog AuditLogger, opts ...Option) *Committer {
	c := &Committer{
		store:        store,
		auditLog:     auditLog,
		targets:      DefaultTargets(),
		lockTTL:      defaultLockTTL,
		concurrency:  1,
		auditTimeout: defaultAuditTimeout,
		logger:       slog.Default(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit applies mappings for category. Each mapping rewrites every row
// whose column equals RawLabel to ProposedLabel. One batch audit record is
// written after all attempts.
//
// The returned error is non-nil only when nothing was attempted: invalid
// input, a held commit lock, or a context that ended before the first update.
func (c *Committer) Commit(ctx context.Context, category models.Category, mappings []models.MappingEntry, ac AuditContext) (*Result, error) {
	start := time.Now()
	target, ok := c.targets[category]
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown category %q", category))
	}
	if err := validateMappings(mappings); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "commit.Commit")
	defer span.End()

	txID := c.newID()
	span.SetAttributes(
		attribute.String("category", string(category)),
		attribute.String("transaction_id", txID),
		attribute.Int("mappings", len(mappings)),
	)

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, "commit:"+string(category), c.lockTTL)
		if err != nil {
			span.SetStatus(codes.Error, "lock not acquired")
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, dErrors.Wrap(err, dErrors.CodeConflict, "another commit for this category is in progress")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "commit lock unavailable")
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				c.logger.WarnContext(ctx, "failed to release commit lock",
					"category", category,
					"transaction_id", txID,
					"error", err,
				)
			}
		}()
	}

	result := &Result{
		TransactionID: txID,
		PerMapping:    c.apply(ctx, category, target, txID, mappings),
	}

	var attempted, failed int
	for _, r := range result.PerMapping {
		switch r.Status {
		case StatusSkipped:
			continue
		case StatusFailed:
			failed++
		}
		attempted++
		result.TotalUpdated += r.UpdatedCount
	}

	if attempted == 0 {
		span.SetStatus(codes.Error, "cancelled")
		c.logger.WarnContext(ctx, "commit cancelled before any mapping was applied",
			"category", category,
			"transaction_id", txID,
		)
		return result, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "commit cancelled before any mapping was applied")
	}

	record := c.auditRecord(category, target, txID, mappings, result.PerMapping, ac)
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.auditTimeout)
	defer cancel()
	auditID, err := c.auditLog.LogBatchChange(auditCtx, record)
	if err != nil {
		result.AuditWarning = true
		result.AuditErr = err
		if c.metrics != nil {
			c.metrics.IncAuditWriteFailed()
		}
		c.logger.WarnContext(ctx, "commit applied without audit record",
			"category", category,
			"transaction_id", txID,
			"total_updated", result.TotalUpdated,
			"error", err,
		)
	}
	result.AuditID = auditID
	result.Success = err == nil && failed < attempted

	if c.metrics != nil {
		c.metrics.ObserveCommit(start)
	}
	span.SetAttributes(
		attribute.Int64("total_updated", result.TotalUpdated),
		attribute.Int("failed", failed),
		attribute.Bool("audit_warning", result.AuditWarning),
	)
	if !result.Success {
		span.SetStatus(codes.Error, "commit incomplete")
	}
	c.logger.InfoContext(ctx, "mapping commit finished",
		"category", category,
		"transaction_id", txID,
		"attempted", attempted,
		"failed", failed,
		"total_updated", result.TotalUpdated,
		"success", result.Success,
		"user_id", ac.UserID,
	)
	return result, nil
}

// apply runs the row updates. Results are written by index so output order
// matches input order whatever the concurrency.
func (c *Committer) apply(ctx context.Context, category models.Category, target Target, txID string, mappings []models.MappingEntry) []MappingResult {
	results := make([]MappingResult, len(mappings))
	for i, m := range mappings {
		results[i] = MappingResult{RawLabel: m.RawLabel, ProposedLabel: m.ProposedLabel, Status: StatusSkipped}
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, m := range mappings {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = c.applyOne(ctx, category, target, txID, m)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Committer) applyOne(ctx context.Context, category models.Category, target Target, txID string, m models.MappingEntry) MappingResult {
	res := MappingResult{RawLabel: m.RawLabel, ProposedLabel: m.ProposedLabel}

	itemCtx := ctx
	if c.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, c.itemTimeout)
		defer cancel()
	}

	n, err := c.store.Update(itemCtx, target.Table,
		records.Filter{target.Column: m.RawLabel},
		map[string]any{target.Column: m.ProposedLabel},
	)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		c.logger.ErrorContext(ctx, "mapping update failed",
			"category", category,
			"transaction_id", txID,
			"raw_label", m.RawLabel,
			"proposed_label", m.ProposedLabel,
			"error", err,
		)
	} else {
		res.Status = StatusSuccess
		res.UpdatedCount = n
	}
	if c.metrics != nil {
		c.metrics.ObserveMapping(string(category), string(res.Status), int(res.UpdatedCount))
	}
	return res
}

func (c *Committer) auditRecord(category models.Category, target Target, txID string, mappings []models.MappingEntry, results []MappingResult, ac AuditContext) audit.Record {
	changes := make([]audit.Change, 0, len(results))
	confidence := make(map[string]int)
	var failedLabels []string
	for i, r := range results {
		if r.Status == StatusSkipped {
			continue
		}
		changes = append(changes, audit.Change{
			RecordIdentifier: r.RawLabel,
			OldValue:         r.RawLabel,
			NewValue:         r.ProposedLabel,
		})
		if mappings[i].AutoSelected {
			confidence[r.RawLabel] = mappings[i].Confidence
		}
		if r.Status == StatusFailed {
			failedLabels = append(failedLabels, r.RawLabel)
		}
	}

	extra := map[string]string{"column": target.Column}
	if len(failedLabels) > 0 {
		extra["failed_count"] = strconv.Itoa(len(failedLabels))
		extra["failed"] = strings.Join(failedLabels, "|")
	}
	if skipped := len(results) - len(changes); skipped > 0 {
		extra["skipped_count"] = strconv.Itoa(skipped)
	}
	for k, v := range clientDetails(ac.UserAgent) {
		extra[k] = v
	}
	if ac.ClientIP != "" {
		extra["client_ip"] = ac.ClientIP
	}

	meta := audit.Metadata{
		Changes:       changes,
		TransactionID: txID,
		Extra:         extra,
	}
	if len(confidence) > 0 {
		meta.Confidence = confidence
	}
	return audit.Record{
		ActionType:    category.ActionType(),
		TableName:     target.Table,
		ChangedBy:     ac.UserID,
		UserEmail:     ac.UserEmail,
		SessionID:     ac.SessionID,
		TransactionID: txID,
		Metadata:      meta,
	}
}

func validateMappings(mappings []models.MappingEntry) error {
	if len(mappings) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one mapping is required")
	}
	seen := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		if strings.TrimSpace(m.RawLabel) == "" {
			return dErrors.New(dErrors.CodeValidation, "mapping has an empty raw label")
		}
		if !m.Mapped() {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("mapping for %q has no proposed label", m.RawLabel))
		}
		if _, dup := seen[m.RawLabel]; dup {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("raw label %q appears more than once", m.RawLabel))
		}
		seen[m.RawLabel] = struct{}{}
	}
	return nil
}
