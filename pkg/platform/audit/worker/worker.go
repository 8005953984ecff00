package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/audit/publisher/kafka"
)

// Source is the subset of *kgo.Client a Worker consumes from.
type Source interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Worker replays audit records from the Kafka mirror into a store, for
// example to rebuild a local SQLite trail. Appends are idempotent on record
// id, so redelivery after a crash is harmless. Offsets are committed only
// after the records of a poll are stored.
type Worker struct {
	store  audit.Store
	source Source
	logger *slog.Logger
}

func NewWorker(store audit.Store, source Source, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, source: source, logger: logger}
}

// Run polls until ctx is cancelled or the client is closed. A store error
// stops the worker without committing the failed poll.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := w.source.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			w.logger.WarnContext(ctx, "audit replay fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		n, err := w.apply(ctx, fetches)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := w.source.CommitRecords(ctx, fetches.Records()...); err != nil {
			w.logger.WarnContext(ctx, "failed to commit audit replay offsets", "error", err)
		}
	}
}

// apply stores the records of one poll. Stores that support transactions
// get the whole poll in one, so a failed poll leaves nothing behind.
func (w *Worker) apply(ctx context.Context, fetches kgo.Fetches) (int, error) {
	if runner, ok := w.store.(audit.TxRunner); ok && fetches.NumRecords() > 0 {
		var n int
		err := runner.InTx(ctx, func(ctx context.Context) error {
			var err error
			n, err = w.appendAll(ctx, fetches)
			return err
		})
		return n, err
	}
	return w.appendAll(ctx, fetches)
}

func (w *Worker) appendAll(ctx context.Context, fetches kgo.Fetches) (int, error) {
	var (
		n      int
		failed error
	)
	fetches.EachRecord(func(r *kgo.Record) {
		if failed != nil {
			return
		}
		n++
		record, err := kafka.Decode(r)
		if err != nil {
			w.logger.WarnContext(ctx, "skipping undecodable audit message",
				"key", string(r.Key),
				"offset", r.Offset,
				"error", err,
			)
			return
		}
		if err := w.store.Append(ctx, record); err != nil {
			failed = fmt.Errorf("replay audit record %s: %w", record.ID, err)
		}
	})
	return n, failed
}
