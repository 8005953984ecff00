// Package matcher proposes canonical labels for raw free-text values.
//
// A Matcher is bound to one category at construction: its canonical set and
// abbreviation table never change afterwards, so Match is deterministic and
// safe for concurrent use.
package matcher

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"mdnorm/internal/normalize/abbreviation"
	"mdnorm/internal/normalize/canonical"
	"mdnorm/internal/normalize/metrics"
	"mdnorm/internal/normalize/models"
	"mdnorm/internal/normalize/similarity"
)

var tracer = otel.Tracer("mdnorm/internal/normalize/matcher")

// Matcher combines an abbreviation table with fuzzy scoring against a
// canonical set.
type Matcher struct {
	category      models.Category
	set           canonical.Set
	abbreviations *abbreviation.Table
	concurrency   int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

type Option func(*Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) {
		m.metrics = mt
	}
}

// WithConcurrency bounds the BatchMatch fan-out. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// New constructs a Matcher for one category.
func New(category models.Category, set canonical.Set, table *abbreviation.Table, opts ...Option) *Matcher {
	m := &Matcher{
		category:      category,
		set:           set,
		abbreviations: table,
		concurrency:   runtime.GOMAXPROCS(0),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Category returns the category this matcher normalizes.
func (m *Matcher) Category() models.Category { return m.category }

// CanonicalSet returns the set proposals are drawn from.
func (m *Matcher) CanonicalSet() canonical.Set { return m.set }

// FindBestMatch scores raw against every label in set and returns the best
// one. Ties go to the earlier label. Candidates holds every label scoring at
// least 50, best first.
func FindBestMatch(raw string, set canonical.Set) models.MatchResult {
	result := models.MatchResult{RawLabel: raw}

	best := -1
	var candidates []models.Candidate
	for i := 0; i < set.Len(); i++ {
		label := set.At(i)
		score := similarity.Score(raw, label)
		if score > best {
			best = score
			result.CanonicalLabel = label
			result.Confidence = score
		}
		if score >= models.CandidateConfidence {
			candidates = append(candidates, models.Candidate{Label: label, Confidence: score})
		}
	}
	if best <= 0 {
		result.CanonicalLabel = ""
		result.Confidence = 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	result.Candidates = candidates
	result.MatchType = models.ClassifyConfidence(result.Confidence)
	return result
}

// Match proposes a canonical label for raw. Abbreviation hits bypass fuzzy
// scoring and always report confidence 100.
func (m *Matcher) Match(raw string) models.MatchResult {
	if canonicalLabel, ok := m.abbreviations.Lookup(raw); ok {
		return models.MatchResult{
			RawLabel:       raw,
			CanonicalLabel: canonicalLabel,
			Confidence:     100,
			MatchType:      models.MatchAbbreviation,
		}
	}
	return FindBestMatch(raw, m.set)
}

// BandCounts tallies results per confidence band. Abbreviation hits are also
// counted as high confidence.
type BandCounts struct {
	Abbreviation int `json:"abbreviation"`
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
}

// BatchResult is the outcome of BatchMatch. Results keep input order.
type BatchResult struct {
	Results          []models.MatchResult `json:"results"`
	AutoSelected     []string             `json:"auto_selected"`
	TotalProcessed   int                  `json:"total_processed"`
	Counts           BandCounts           `json:"counts"`
	ExcludedCompound int                  `json:"excluded_compound"`
}

type batchOptions struct {
	threshold  int
	autoSelect bool
}

type BatchOption func(*batchOptions)

// WithConfidenceThreshold sets the minimum confidence for auto-selection.
// Zero or less keeps models.HighConfidence, as Session.AutoSelectHighConfidence does.
func WithConfidenceThreshold(threshold int) BatchOption {
	return func(o *batchOptions) {
		if threshold <= 0 {
			threshold = models.HighConfidence
		}
		o.threshold = threshold
	}
}

// WithAutoSelect toggles auto-selection.
func WithAutoSelect(enabled bool) BatchOption {
	return func(o *batchOptions) {
		o.autoSelect = enabled
	}
}

// BatchMatch runs Match over every raw label. Items are independent and are
// scored concurrently; results are written back by index so order is kept.
//
// A label is auto-selected when auto-selection is enabled, its confidence
// reaches the threshold and it is not compound. Compound labels that would
// otherwise qualify are counted in ExcludedCompound.
func (m *Matcher) BatchMatch(ctx context.Context, raws []string, opts ...BatchOption) (*BatchResult, error) {
	start := time.Now()
	o := batchOptions{threshold: models.HighConfidence, autoSelect: true}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "matcher.BatchMatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("category", string(m.category)),
		attribute.Int("labels", len(raws)),
	)

	results := make([]models.MatchResult, len(raws))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = m.Match(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.WarnContext(ctx, "batch match aborted",
			"category", m.category,
			"labels", len(raws),
			"error", err,
		)
		return nil, err
	}

	out := &BatchResult{
		Results:        results,
		AutoSelected:   []string{},
		TotalProcessed: len(results),
	}
	for _, r := range results {
		switch r.MatchType {
		case models.MatchAbbreviation:
			out.Counts.Abbreviation++
			out.Counts.High++
		case models.MatchHighConfidence:
			out.Counts.High++
		case models.MatchMediumConfidence:
			out.Counts.Medium++
		default:
			out.Counts.Low++
		}
		if m.metrics != nil {
			m.metrics.ObserveMatch(string(m.category), string(r.MatchType))
		}

		if !o.autoSelect || r.Confidence < o.threshold || r.CanonicalLabel == "" {
			continue
		}
		if models.IsCompound(r.RawLabel) {
			out.ExcludedCompound++
			continue
		}
		out.AutoSelected = append(out.AutoSelected, r.RawLabel)
	}

	if m.metrics != nil {
		m.metrics.AddAutoSelected(string(m.category), len(out.AutoSelected))
		m.metrics.ObserveBatch(start)
	}
	span.SetAttributes(attribute.Int("auto_selected", len(out.AutoSelected)))
	return out, nil
}

// SplitCompound separates compound labels from the rest, preserving order.
// Callers filter with it before BatchMatch and report len(compound) to the
// operator.
func SplitCompound(raws []string) (simple, compound []string) {
	simple = make([]string, 0, len(raws))
	for _, raw := range raws {
		if models.IsCompound(raw) {
			compound = append(compound, raw)
			continue
		}
		simple = append(simple, raw)
	}
	return simple, compound
}
