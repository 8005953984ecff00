// Package handler exposes matching and bulk commits over HTTP. The server is
// stateless: mapping sessions live in the client, which posts its working
// set on every call.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mdnorm/internal/normalize/commit"
	"mdnorm/internal/normalize/matcher"
	"mdnorm/internal/normalize/models"
	"mdnorm/internal/normalize/session"
	"mdnorm/internal/platform/middleware"
	"mdnorm/internal/records"
	dErrors "mdnorm/pkg/domain-errors"
	"mdnorm/pkg/platform/httputil"
	"mdnorm/pkg/platform/middleware/metadata"
)

// Committer applies validated mappings.
type Committer interface {
	Commit(ctx context.Context, category models.Category, mappings []models.MappingEntry, ac commit.AuditContext) (*commit.Result, error)
}

// Handler serves /v1/{category}/... routes.
type Handler struct {
	matchers  map[models.Category]*matcher.Matcher
	committer Committer
	store     records.Store
	targets   map[models.Category]commit.Target
	threshold int
	logger    *slog.Logger
}

type Option func(*Handler)

// WithAutoSelectThreshold sets the default batch threshold.
func WithAutoSelectThreshold(t int) Option {
	return func(h *Handler) {
		if t > 0 {
			h.threshold = t
		}
	}
}

// WithTargets overrides where labels are read from.
func WithTargets(targets map[models.Category]commit.Target) Option {
	return func(h *Handler) {
		h.targets = targets
	}
}

func New(matchers []*matcher.Matcher, committer Committer, store records.Store, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		matchers:  make(map[models.Category]*matcher.Matcher, len(matchers)),
		committer: committer,
		store:     store,
		targets:   commit.DefaultTargets(),
		threshold: models.HighConfidence,
		logger:    logger,
	}
	for _, m := range matchers {
		h.matchers[m.Category()] = m
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r. Commits require an operator identity.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/{category}", func(r chi.Router) {
		r.Get("/labels", h.handleLabels)
		r.Post("/match", h.handleMatch)
		r.Post("/match/batch", h.handleBatchMatch)
		r.With(middleware.RequireOperator(h.logger)).Post("/commit", h.handleCommit)
	})
}

func (h *Handler) matcherFor(r *http.Request) (*matcher.Matcher, error) {
	category, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, err.Error())
	}
	m, ok := h.matchers[category]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("category %q is not configured", category))
	}
	return m, nil
}

type matchRequest struct {
	Label string `json:"label"`
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.matcherFor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req matchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m.Match(req.Label))
}

type batchMatchRequest struct {
	Labels     []string `json:"labels"`
	AutoSelect *bool    `json:"auto_select,omitempty"`
	Threshold  int      `json:"threshold,omitempty"`
}

type batchMatchResponse struct {
	*matcher.BatchResult
	Mappings   []models.MappingEntry `json:"mappings"`
	Statistics session.Statistics    `json:"statistics"`
}

// handleBatchMatch matches every label and returns a seeded working set:
// auto-selected labels already carry their proposal, the rest are unmapped.
func (h *Handler) handleBatchMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.matcherFor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req batchMatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Threshold < 0 || req.Threshold > 100 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "threshold must be within 0..100"))
		return
	}
	threshold := h.threshold
	if req.Threshold > 0 {
		threshold = req.Threshold
	}
	autoSelect := req.AutoSelect == nil || *req.AutoSelect

	sess := session.New()
	sess.Initialize(req.Labels)
	labels := sess.Labels()

	res, err := m.BatchMatch(ctx, labels,
		matcher.WithConfidenceThreshold(threshold),
		matcher.WithAutoSelect(autoSelect),
	)
	if err != nil {
		h.logger.WarnContext(ctx, "batch match failed",
			"request_id", middleware.GetRequestID(ctx),
			"category", m.Category(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeTimeout, "batch match did not finish"))
		return
	}
	if autoSelect {
		sess.AutoSelectHighConfidence(res.Results, threshold)
	}

	httputil.WriteJSON(w, http.StatusOK, batchMatchResponse{
		BatchResult: res,
		Mappings:    sess.Entries(),
		Statistics:  sess.Statistics(),
	})
}

type commitRequest struct {
	Mappings []models.MappingEntry `json:"mappings"`
}

type validationResponse struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description"`
	Errors           []string `json:"errors"`
}

// handleCommit validates the posted working set the same way a session does
// and commits its mapped entries. Unmapped entries are ignored.
func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.matcherFor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req commitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	raws := make([]string, 0, len(req.Mappings))
	for _, e := range req.Mappings {
		raws = append(raws, e.RawLabel)
	}
	sess := session.New()
	sess.Initialize(raws)
	sess.BatchUpdate(req.Mappings)

	validation := sess.Validate()
	if !validation.IsValid {
		httputil.WriteJSON(w, http.StatusBadRequest, validationResponse{
			Error:            string(dErrors.CodeValidation),
			ErrorDescription: validation.Err().Error(),
			Errors:           validation.Errors,
		})
		return
	}

	op := middleware.GetOperator(ctx)
	result, err := h.committer.Commit(ctx, m.Category(), validation.ValidMappings, commit.AuditContext{
		UserID:    op.UserID,
		UserEmail: op.UserEmail,
		SessionID: op.SessionID,
		UserAgent: metadata.GetUserAgent(ctx),
		ClientIP:  metadata.GetClientIP(ctx),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "commit rejected",
			"request_id", middleware.GetRequestID(ctx),
			"category", m.Category(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type labelsResponse struct {
	Labels   []string `json:"labels"`
	Compound []string `json:"compound"`
}

// handleLabels lists the distinct raw labels currently stored for the
// category, with compound labels split out for manual review.
func (h *Handler) handleLabels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.matcherFor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	target, ok := h.targets[m.Category()]
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "category has no storage target"))
		return
	}
	values, err := records.DistinctValues(ctx, h.store, target.Table, target.Column)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list raw labels",
			"request_id", middleware.GetRequestID(ctx),
			"category", m.Category(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable"))
		return
	}
	simple, compound := matcher.SplitCompound(values)
	if compound == nil {
		compound = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, labelsResponse{Labels: simple, Compound: compound})
}
