package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/audit/store/memory"
	"mdnorm/pkg/platform/circuit"
)

var errBrokerDown = errors.New("broker down")

type fakeProducer struct {
	mu      sync.Mutex
	fail    bool
	records []*kgo.Record
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.fail {
			results = append(results, kgo.ProduceResult{Record: r, Err: errBrokerDown})
			continue
		}
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

type KafkaStoreSuite struct {
	suite.Suite
	inner    *memory.InMemoryStore
	producer *fakeProducer
	now      time.Time
	store    *Store
}

func TestKafkaStoreSuite(t *testing.T) {
	suite.Run(t, new(KafkaStoreSuite))
}

func (s *KafkaStoreSuite) SetupTest() {
	s.inner = memory.NewInMemoryStore(10)
	s.producer = &fakeProducer{}
	s.now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuit.New("kafka-audit",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return s.now }),
	)
	s.store = NewStore(s.inner, s.producer, "mdnorm.audit", WithBreaker(breaker))
}

func record(id string) audit.Record {
	return audit.Record{
		ID:            id,
		ActionType:    "STATE_MAPPING_UPDATE",
		TableName:     "influencers",
		TransactionID: "tx-" + id,
		Timestamp:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Metadata: audit.Metadata{
			Changes:   []audit.Change{{RecordIdentifier: "U.P.", OldValue: "U.P.", NewValue: "Uttar Pradesh"}},
			BatchSize: 1,
		},
	}
}

func (s *KafkaStoreSuite) TestAppendPublishes() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, record("a-1")))

	s.Equal(1, s.inner.Len())
	s.Require().Len(s.producer.records, 1)
	msg := s.producer.records[0]
	s.Equal("mdnorm.audit", msg.Topic)
	s.Equal([]byte("a-1"), msg.Key)

	decoded, err := Decode(msg)
	s.Require().NoError(err)
	s.Equal(record("a-1").Metadata, decoded.Metadata)
	s.Equal(audit.KindBatch, decoded.Kind())

	got, err := s.store.FindByID(ctx, "a-1")
	s.Require().NoError(err)
	s.Equal("tx-a-1", got.TransactionID)
}

func (s *KafkaStoreSuite) TestPublishFailureDoesNotFailAppend() {
	ctx := context.Background()
	s.producer.fail = true

	s.Require().NoError(s.store.Append(ctx, record("a-1")))
	s.Require().NoError(s.store.Append(ctx, record("a-2")))
	s.Equal(2, s.inner.Len())
	s.True(s.store.breaker.IsOpen())

	s.Run("open breaker skips the producer", func() {
		s.producer.fail = false
		s.Require().NoError(s.store.Append(ctx, record("a-3")))
		s.Empty(s.producer.records)
	})

	s.Run("probe after cooldown resumes publishing", func() {
		s.now = s.now.Add(time.Minute)
		s.Require().NoError(s.store.Append(ctx, record("a-4")))
		s.Len(s.producer.records, 1)
		s.False(s.store.breaker.IsOpen())
	})
}

func (s *KafkaStoreSuite) TestFailedProbeKeepsPublishingPaused() {
	ctx := context.Background()
	s.producer.fail = true
	s.Require().NoError(s.store.Append(ctx, record("a-1")))
	s.Require().NoError(s.store.Append(ctx, record("a-2")))
	s.Require().True(s.store.breaker.IsOpen())

	s.now = s.now.Add(time.Minute)
	s.Require().NoError(s.store.Append(ctx, record("a-3")))
	s.True(s.store.breaker.IsOpen())

	s.producer.fail = false
	s.now = s.now.Add(30 * time.Second)
	s.Require().NoError(s.store.Append(ctx, record("a-4")))
	s.Empty(s.producer.records)

	s.now = s.now.Add(30 * time.Second)
	s.Require().NoError(s.store.Append(ctx, record("a-5")))
	s.Require().Len(s.producer.records, 1)
	s.Equal([]byte("a-5"), s.producer.records[0].Key)
	s.False(s.store.breaker.IsOpen())
	s.Equal(5, s.inner.Len())
}

func (s *KafkaStoreSuite) TestInnerFailureSkipsPublish() {
	err := s.store.Append(context.Background(), audit.Record{ActionType: "X", TableName: "t"})
	s.Error(err)
	s.Empty(s.producer.records)
}
