package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	audit "mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/sentinel"
)

// DefaultCapacity is used when NewInMemoryStore is given no capacity.
const DefaultCapacity = 10_000

// InMemoryStore is a fixed-capacity ring buffer of audit records for tests,
// demos and deployments without a database. Once full, the oldest record is
// overwritten. Appending an id that is already held is a no-op so replays
// stay idempotent.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
	next    int
	full    bool
	ids     map[string]int
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryStore{
		records: make([]audit.Record, capacity),
		ids:     make(map[string]int, capacity),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make([]audit.Record, len(s.records))
	s.ids = make(map[string]int, len(s.records))
	s.next = 0
	s.full = false
}

func (s *InMemoryStore) Append(_ context.Context, record audit.Record) error {
	if record.ID == "" {
		return fmt.Errorf("append audit record: %w: missing id", sentinel.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[record.ID]; ok {
		return nil
	}
	if s.full {
		delete(s.ids, s.records[s.next].ID)
	}
	s.records[s.next] = record
	s.ids[record.ID] = s.next
	s.next = (s.next + 1) % len(s.records)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.ids[id]; ok {
		r := s.records[i]
		return &r, nil
	}
	return nil, fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByTransaction(_ context.Context, transactionID string) (*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.newestFirst() {
		if transactionID != "" && r.TransactionID == transactionID && r.Kind() == audit.KindBatch {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("audit transaction %s: %w", transactionID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) History(_ context.Context, tableName, recordID string, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []audit.Record{}
	for _, r := range s.newestFirst() {
		if r.TableName == tableName && r.Touches(recordID) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []audit.Record{}
	for _, r := range s.newestFirst() {
		if filter.UserID != "" && r.ChangedBy != filter.UserID {
			continue
		}
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out, nil
}

// Len returns the number of held records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// newestFirst walks the ring from the latest write backwards.
// Callers must hold the lock.
func (s *InMemoryStore) newestFirst() []audit.Record {
	n := s.next
	if s.full {
		n = len(s.records)
	}
	out := make([]audit.Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.records)) % len(s.records)
		out = append(out, s.records[idx])
	}
	return out
}

// sortNewestFirst orders by timestamp, keeping insertion order for ties.
func sortNewestFirst(records []audit.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
