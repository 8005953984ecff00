package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	base  time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore(4)
	s.ctx = context.Background()
	s.base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) record(id string, minute int) audit.Record {
	return audit.Record{
		ID:         id,
		ActionType: audit.ActionRecordUpdate,
		TableName:  "influencers",
		RecordID:   "row-" + id,
		ChangedBy:  "user-1",
		Timestamp:  s.base.Add(time.Duration(minute) * time.Minute),
	}
}

func (s *InMemoryStoreSuite) TestAppendAndFind() {
	s.Run("finds appended record by id", func() {
		s.Require().NoError(s.store.Append(s.ctx, s.record("a", 0)))
		found, err := s.store.FindByID(s.ctx, "a")
		s.Require().NoError(err)
		s.Equal("row-a", found.RecordID)
	})

	s.Run("duplicate id is ignored", func() {
		dup := s.record("a", 5)
		dup.RecordID = "other"
		s.Require().NoError(s.store.Append(s.ctx, dup))
		s.Equal(1, s.store.Len())
		found, err := s.store.FindByID(s.ctx, "a")
		s.Require().NoError(err)
		s.Equal("row-a", found.RecordID)
	})

	s.Run("missing id", func() {
		_, err := s.store.FindByID(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("record without id is rejected", func() {
		err := s.store.Append(s.ctx, audit.Record{})
		s.ErrorIs(err, sentinel.ErrInvalidInput)
	})
}

func (s *InMemoryStoreSuite) TestRingOverwritesOldest() {
	for i := range 6 {
		s.Require().NoError(s.store.Append(s.ctx, s.record(fmt.Sprintf("r%d", i), i)))
	}

	s.Equal(4, s.store.Len())
	_, err := s.store.FindByID(s.ctx, "r0")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByID(s.ctx, "r1")
	s.ErrorIs(err, sentinel.ErrNotFound)

	all, err := s.store.List(s.ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Equal([]string{"r5", "r4", "r3", "r2"}, ids(all))
}

func (s *InMemoryStoreSuite) TestHistoryIncludesBatches() {
	batch := audit.Record{
		ID:            "batch",
		ActionType:    "STATE_MAPPING_UPDATE",
		TableName:     "influencers",
		TransactionID: "tx-1",
		Timestamp:     s.base.Add(10 * time.Minute),
		Metadata: audit.Metadata{Changes: []audit.Change{
			{RecordIdentifier: "row-a", OldValue: "row-a", NewValue: "A"},
		}},
	}
	other := s.record("x", 20)
	other.TableName = "campaigns"
	other.RecordID = "row-a"

	s.Require().NoError(s.store.Append(s.ctx, s.record("a", 0)))
	s.Require().NoError(s.store.Append(s.ctx, batch))
	s.Require().NoError(s.store.Append(s.ctx, other))

	history, err := s.store.History(s.ctx, "influencers", "row-a", 10)
	s.Require().NoError(err)
	s.Equal([]string{"batch", "a"}, ids(history))

	limited, err := s.store.History(s.ctx, "influencers", "row-a", 1)
	s.Require().NoError(err)
	s.Equal([]string{"batch"}, ids(limited))

	found, err := s.store.FindByTransaction(s.ctx, "tx-1")
	s.Require().NoError(err)
	s.Equal("batch", found.ID)
}

func (s *InMemoryStoreSuite) TestListFiltersByUser() {
	mine := s.record("a", 0)
	theirs := s.record("b", 1)
	theirs.ChangedBy = "user-2"
	s.Require().NoError(s.store.Append(s.ctx, mine))
	s.Require().NoError(s.store.Append(s.ctx, theirs))

	got, err := s.store.List(s.ctx, audit.Filter{UserID: "user-2"})
	s.Require().NoError(err)
	s.Equal([]string{"b"}, ids(got))
}

func (s *InMemoryStoreSuite) TestClear() {
	s.Require().NoError(s.store.Append(s.ctx, s.record("a", 0)))
	s.store.Clear()
	s.Zero(s.store.Len())
	all, err := s.store.List(s.ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Empty(all)
}

func ids(records []audit.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
