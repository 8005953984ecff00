package session

import (
	"fmt"
	"strings"

	"mdnorm/internal/normalize/models"
	dErrors "mdnorm/pkg/domain-errors"
)

const errNoMappings = "at least one mapping is required"

// ValidationResult reports whether the session may be committed.
type ValidationResult struct {
	IsValid       bool
	Errors        []string
	ValidMappings []models.MappingEntry
}

// Err returns nil for a valid result, otherwise a CodeValidation error
// listing every failure.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, strings.Join(r.Errors, "; "))
}

// Validate checks the session before commit. It fails when nothing is mapped
// and when two or more raw labels share a target, which usually means an
// unwanted merge. All failures are reported.
func (s *Session) Validate() ValidationResult {
	res := ValidationResult{ValidMappings: []models.MappingEntry{}}

	counts := make(map[string]int)
	var targets []string
	for _, e := range s.Entries() {
		if !e.Mapped() {
			continue
		}
		res.ValidMappings = append(res.ValidMappings, e)
		if counts[e.ProposedLabel] == 0 {
			targets = append(targets, e.ProposedLabel)
		}
		counts[e.ProposedLabel]++
	}

	if len(res.ValidMappings) == 0 {
		res.Errors = append(res.Errors, errNoMappings)
	}

	var dups []string
	for _, target := range targets {
		if n := counts[target]; n > 1 {
			dups = append(dups, fmt.Sprintf("%s (%d times)", target, n))
		}
	}
	if len(dups) > 0 {
		res.Errors = append(res.Errors,
			"multiple raw labels map to the same target: "+strings.Join(dups, ", "))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// Statistics is a point-in-time projection of a session. Confidence bands
// count mapped entries only.
type Statistics struct {
	Total            int  `json:"total"`
	Mapped           int  `json:"mapped"`
	Unmapped         int  `json:"unmapped"`
	PendingCount     int  `json:"pending_count"`
	HighConfidence   int  `json:"high_confidence"`
	MediumConfidence int  `json:"medium_confidence"`
	LowConfidence    int  `json:"low_confidence"`
	IsDirty          bool `json:"is_dirty"`
}

// Statistics recomputes counters from current state. Sessions hold hundreds
// of entries, so nothing is cached.
func (s *Session) Statistics() Statistics {
	st := Statistics{
		Total:        len(s.order),
		PendingCount: len(s.pending),
		IsDirty:      s.IsDirty(),
	}
	for _, raw := range s.order {
		if s.mappings[raw] == "" {
			st.Unmapped++
			continue
		}
		st.Mapped++
		switch models.ClassifyConfidence(s.confidence[raw]) {
		case models.MatchHighConfidence:
			st.HighConfidence++
		case models.MatchMediumConfidence:
			st.MediumConfidence++
		default:
			st.LowConfidence++
		}
	}
	return st
}
