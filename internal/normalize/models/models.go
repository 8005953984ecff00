package models

import (
	"fmt"
	"strings"
)

// Category names a master-data column that is normalized against its own
// canonical set, e.g. "state" or "city".
type Category string

const (
	CategoryState Category = "state"
	CategoryCity  Category = "city"
)

// ParseCategory validates a category name coming from a transport.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryState, CategoryCity:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// ActionType is the audit action recorded for a committed mapping batch.
func (c Category) ActionType() string {
	return strings.ToUpper(string(c)) + "_MAPPING_UPDATE"
}

// MatchType classifies how a proposal was found.
type MatchType string

const (
	MatchAbbreviation     MatchType = "abbreviation"
	MatchHighConfidence   MatchType = "high_confidence"
	MatchMediumConfidence MatchType = "medium_confidence"
	MatchLowConfidence    MatchType = "low_confidence"
)

// Confidence band boundaries.
const (
	HighConfidence      = 90
	MediumConfidence    = 70
	CandidateConfidence = 50
)

// ClassifyConfidence maps a fuzzy score onto a match type.
func ClassifyConfidence(confidence int) MatchType {
	switch {
	case confidence >= HighConfidence:
		return MatchHighConfidence
	case confidence >= MediumConfidence:
		return MatchMediumConfidence
	default:
		return MatchLowConfidence
	}
}

// Candidate is one ranked canonical label offered for disambiguation.
type Candidate struct {
	Label      string `json:"label"`
	Confidence int    `json:"confidence"`
}

// MatchResult is the best canonical proposal for one raw label.
type MatchResult struct {
	RawLabel       string      `json:"raw_label"`
	CanonicalLabel string      `json:"canonical_label"`
	Confidence     int         `json:"confidence"`
	MatchType      MatchType   `json:"match_type"`
	Candidates     []Candidate `json:"candidates,omitempty"`
}

// MappingEntry is one raw-to-canonical proposal. An empty ProposedLabel means
// the raw label is unmapped.
type MappingEntry struct {
	RawLabel      string `json:"raw_label"`
	ProposedLabel string `json:"proposed_label"`
	Confidence    int    `json:"confidence"`
	AutoSelected  bool   `json:"auto_selected"`
}

// compoundSeparators mark labels such as "Delhi/NCR" that name more than one
// entity and must be reviewed by an operator.
const compoundSeparators = `/\|`

// IsCompound reports whether raw names several entities at once.
func IsCompound(raw string) bool {
	return strings.ContainsAny(raw, compoundSeparators)
}

// Mapped reports whether the entry carries a proposal.
func (e MappingEntry) Mapped() bool {
	return e.ProposedLabel != ""
}
