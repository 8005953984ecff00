// Package kafka mirrors appended audit records onto a Kafka topic so other
// systems can follow the trail. The wrapped store stays the source of truth:
// a record is durable once the inner Append returns, and publishing is best
// effort.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/circuit"
)

const (
	headerActionType = "action_type"
	headerTableName  = "table_name"
	headerKind       = "kind"
)

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store decorates an audit.Store. Reads go straight to the inner store.
type Store struct {
	audit.Store
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBreaker replaces the default breaker that pauses publishing while the
// brokers are unreachable.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		s.breaker = b
	}
}

func NewStore(inner audit.Store, producer Producer, topic string, opts ...Option) *Store {
	s := &Store{
		Store:    inner,
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka-audit"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists the record and then publishes it keyed by record id.
// Publishing failures are logged and never returned.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	if err := s.Store.Append(ctx, record); err != nil {
		return err
	}
	s.publish(ctx, record)
	return nil
}

func (s *Store) publish(ctx context.Context, record audit.Record) {
	if !s.breaker.Allow() {
		s.logger.DebugContext(ctx, "kafka audit publishing paused", "audit_id", record.ID)
		return
	}

	value, err := json.Marshal(record)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to encode audit record for kafka",
			"audit_id", record.ID,
			"error", err,
		)
		return
	}

	msg := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(record.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerActionType, Value: []byte(record.ActionType)},
			{Key: headerTableName, Value: []byte(record.TableName)},
			{Key: headerKind, Value: []byte(record.Kind())},
		},
	}
	if err := s.producer.ProduceSync(ctx, msg).FirstErr(); err != nil {
		_, change := s.breaker.RecordFailure()
		s.logger.WarnContext(ctx, "failed to publish audit record",
			"audit_id", record.ID,
			"topic", s.topic,
			"error", err,
		)
		if change.Opened {
			s.logger.WarnContext(ctx, "kafka audit publishing paused after repeated failures", "topic", s.topic)
		}
		return
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "kafka audit publishing resumed", "topic", s.topic)
	}
}

// Decode parses a published audit record.
func Decode(r *kgo.Record) (audit.Record, error) {
	var record audit.Record
	if err := json.Unmarshal(r.Value, &record); err != nil {
		return audit.Record{}, err
	}
	if record.ID == "" {
		record.ID = string(r.Key)
	}
	return record, nil
}
