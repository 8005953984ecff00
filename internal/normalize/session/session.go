// Package session tracks an operator's working set of raw-to-canonical
// mappings between discovery and commit.
package session

import (
	"fmt"
	"strings"

	"mdnorm/internal/normalize/models"
	dErrors "mdnorm/pkg/domain-errors"
	labels "mdnorm/pkg/platform/strings"
)

// ErrUnknownKey is returned by Update for a raw label that was not part of
// the last Initialize. It signals a caller bug, not operator input.
var ErrUnknownKey = dErrors.New(dErrors.CodeInvariantViolation, "raw label is not part of the session")

// Session holds the mapping state of one workflow instance.
//
// A Session has no internal locking. It must be owned by a single caller;
// sharing it between goroutines requires an external lock because Update and
// BatchUpdate are not atomic with respect to the pending set.
type Session struct {
	order        []string
	mappings     map[string]string
	original     map[string]string
	confidence   map[string]int
	originalConf map[string]int
	autoSelected map[string]bool
	originalAuto map[string]bool
	pending      map[string]struct{}

	observers    map[int]func(Statistics)
	nextObserver int
}

// New returns an empty session. Call Initialize before use.
func New() *Session {
	s := &Session{observers: make(map[int]func(Statistics))}
	s.Initialize(nil)
	return s
}

// Initialize discards all state and tracks rawLabels with empty proposals and
// zero confidence. Duplicate and blank labels are dropped; discovery order is
// kept.
func (s *Session) Initialize(rawLabels []string) {
	entries := make([]models.MappingEntry, 0, len(rawLabels))
	for _, raw := range labels.Dedupe(rawLabels) {
		entries = append(entries, models.MappingEntry{RawLabel: raw})
	}
	s.InitializeWith(entries)
}

// InitializeWith is Initialize with previously saved proposals. The given
// proposals become the snapshot that pending changes and Reset compare to.
func (s *Session) InitializeWith(entries []models.MappingEntry) {
	s.order = make([]string, 0, len(entries))
	s.mappings = make(map[string]string, len(entries))
	s.original = make(map[string]string, len(entries))
	s.confidence = make(map[string]int, len(entries))
	s.originalConf = make(map[string]int, len(entries))
	s.autoSelected = make(map[string]bool, len(entries))
	s.originalAuto = make(map[string]bool, len(entries))
	s.pending = make(map[string]struct{})

	for _, e := range entries {
		if _, seen := s.mappings[e.RawLabel]; seen || strings.TrimSpace(e.RawLabel) == "" {
			continue
		}
		s.order = append(s.order, e.RawLabel)
		s.mappings[e.RawLabel] = e.ProposedLabel
		s.original[e.RawLabel] = e.ProposedLabel
		s.confidence[e.RawLabel] = e.Confidence
		s.originalConf[e.RawLabel] = e.Confidence
		s.autoSelected[e.RawLabel] = e.AutoSelected
		s.originalAuto[e.RawLabel] = e.AutoSelected
	}
	s.notify()
}

// Update sets the proposal for one raw label and recomputes its pending flag.
func (s *Session) Update(raw, proposed string, confidence int) error {
	if _, ok := s.mappings[raw]; !ok {
		return fmt.Errorf("update %q: %w", raw, ErrUnknownKey)
	}
	s.set(raw, proposed, confidence, false)
	s.recompute(raw)
	s.notify()
	return nil
}

// BatchUpdate applies many proposals and recomputes the pending set once.
// Entries for unknown raw labels are ignored; labels not in entries keep
// their value. It returns how many entries were applied.
func (s *Session) BatchUpdate(entries []models.MappingEntry) int {
	applied := 0
	for _, e := range entries {
		if _, ok := s.mappings[e.RawLabel]; !ok {
			continue
		}
		s.set(e.RawLabel, e.ProposedLabel, e.Confidence, e.AutoSelected)
		applied++
	}
	if applied > 0 {
		s.recomputeAll()
		s.notify()
	}
	return applied
}

// AutoSelectHighConfidence applies every match at or above threshold
// through BatchUpdate and returns how many were applied. A threshold of zero
// or less means models.HighConfidence. Matches without a proposal and
// compound raw labels are skipped.
func (s *Session) AutoSelectHighConfidence(matches []models.MatchResult, threshold int) int {
	if threshold <= 0 {
		threshold = models.HighConfidence
	}
	entries := make([]models.MappingEntry, 0, len(matches))
	for _, m := range matches {
		if m.Confidence < threshold || m.CanonicalLabel == "" || models.IsCompound(m.RawLabel) {
			continue
		}
		entries = append(entries, models.MappingEntry{
			RawLabel:      m.RawLabel,
			ProposedLabel: m.CanonicalLabel,
			Confidence:    m.Confidence,
			AutoSelected:  true,
		})
	}
	return s.BatchUpdate(entries)
}

// ClearAll empties every proposal and marks every raw label pending, even
// those whose snapshot was already empty. Unlike Reset it is destructive.
func (s *Session) ClearAll() {
	for _, raw := range s.order {
		s.set(raw, "", 0, false)
		s.pending[raw] = struct{}{}
	}
	s.notify()
}

// Reset restores the snapshot taken at Initialize and clears pending changes.
func (s *Session) Reset() {
	for _, raw := range s.order {
		s.mappings[raw] = s.original[raw]
		s.confidence[raw] = s.originalConf[raw]
		s.autoSelected[raw] = s.originalAuto[raw]
	}
	s.pending = make(map[string]struct{})
	s.notify()
}

func (s *Session) set(raw, proposed string, confidence int, auto bool) {
	s.mappings[raw] = proposed
	s.confidence[raw] = confidence
	s.autoSelected[raw] = auto
}

func (s *Session) recompute(raw string) {
	if s.mappings[raw] != s.original[raw] {
		s.pending[raw] = struct{}{}
		return
	}
	delete(s.pending, raw)
}

func (s *Session) recomputeAll() {
	s.pending = make(map[string]struct{})
	for _, raw := range s.order {
		s.recompute(raw)
	}
}

// Labels returns the tracked raw labels in discovery order.
func (s *Session) Labels() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of tracked raw labels.
func (s *Session) Len() int { return len(s.order) }

// Entry returns the current mapping for raw.
func (s *Session) Entry(raw string) (models.MappingEntry, bool) {
	proposed, ok := s.mappings[raw]
	if !ok {
		return models.MappingEntry{}, false
	}
	return models.MappingEntry{
		RawLabel:      raw,
		ProposedLabel: proposed,
		Confidence:    s.confidence[raw],
		AutoSelected:  s.autoSelected[raw],
	}, true
}

// Entries returns every mapping in discovery order.
func (s *Session) Entries() []models.MappingEntry {
	out := make([]models.MappingEntry, 0, len(s.order))
	for _, raw := range s.order {
		e, _ := s.Entry(raw)
		out = append(out, e)
	}
	return out
}

// Mappings returns a copy of the current raw-to-proposal map.
func (s *Session) Mappings() map[string]string {
	return copyMap(s.mappings)
}

// OriginalMappings returns a copy of the snapshot taken at Initialize.
func (s *Session) OriginalMappings() map[string]string {
	return copyMap(s.original)
}

// IsPending reports whether raw differs from its snapshot or was cleared.
func (s *Session) IsPending(raw string) bool {
	_, ok := s.pending[raw]
	return ok
}

// PendingChanges returns the pending raw labels in discovery order.
func (s *Session) PendingChanges() []string {
	out := make([]string, 0, len(s.pending))
	for _, raw := range s.order {
		if s.IsPending(raw) {
			out = append(out, raw)
		}
	}
	return out
}

// IsDirty reports whether any raw label is pending.
func (s *Session) IsDirty() bool {
	return len(s.pending) > 0
}

// Subscribe registers fn to receive fresh statistics after every mutation.
// The returned function removes the subscription.
func (s *Session) Subscribe(fn func(Statistics)) (unsubscribe func()) {
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	return func() { delete(s.observers, id) }
}

func (s *Session) notify() {
	if len(s.observers) == 0 {
		return
	}
	stats := s.Statistics()
	for _, fn := range s.observers {
		fn(stats)
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
