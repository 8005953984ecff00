package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mdnorm/internal/platform/middleware"
	dErrors "mdnorm/pkg/domain-errors"
	"mdnorm/pkg/platform/audit"
	"mdnorm/pkg/platform/httputil"
)

// AuditTrail is the read and write surface of the audit trail exposed over
// HTTP.
type AuditTrail interface {
	LogChange(ctx context.Context, record audit.Record) (string, error)
	GetHistory(ctx context.Context, tableName, recordID string, limit int) ([]audit.Record, error)
	GetBatchDetails(ctx context.Context, id string) ([]audit.Change, error)
	Statistics(ctx context.Context, filter audit.StatsFilter) (*audit.Stats, error)
}

// AuditHandler serves /v1/audit.
type AuditHandler struct {
	trail  AuditTrail
	logger *slog.Logger
}

func NewAuditHandler(trail AuditTrail, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{trail: trail, logger: logger}
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Route("/v1/audit", func(r chi.Router) {
		r.Get("/history/{table}/{recordID}", h.handleHistory)
		r.Get("/batches/{id}", h.handleBatch)
		r.Get("/stats", h.handleStats)
		r.With(middleware.RequireOperator(h.logger)).Post("/records", h.handleLogChange)
	})
}

type historyResponse struct {
	Records []audit.Record `json:"records"`
}

func (h *AuditHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	records, err := h.trail.GetHistory(ctx, chi.URLParam(r, "table"), chi.URLParam(r, "recordID"), limit)
	if err != nil {
		h.logError(ctx, "failed to load audit history", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Records: records})
}

type batchResponse struct {
	ID      string         `json:"id"`
	Changes []audit.Change `json:"changes"`
}

// handleBatch accepts either an audit id or a transaction id.
func (h *AuditHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	changes, err := h.trail.GetBatchDetails(ctx, id)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logError(ctx, "failed to load audit batch", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batchResponse{ID: id, Changes: changes})
}

func (h *AuditHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.trail.Statistics(ctx, audit.StatsFilter{UserID: r.URL.Query().Get("user_id")})
	if err != nil {
		h.logError(ctx, "failed to compute audit statistics", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type logChangeRequest struct {
	ActionType    string         `json:"action_type"`
	TableName     string         `json:"table_name"`
	RecordID      string         `json:"record_id"`
	OldValue      map[string]any `json:"old_value,omitempty"`
	NewValue      map[string]any `json:"new_value,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
}

type logChangeResponse struct {
	ID string `json:"id"`
}

// handleLogChange records a single-row change made outside mdnorm. The
// author is always the calling operator.
func (h *AuditHandler) handleLogChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req logChangeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.RecordID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "record_id is required"))
		return
	}

	op := middleware.GetOperator(ctx)
	id, err := h.trail.LogChange(ctx, audit.Record{
		ActionType:    req.ActionType,
		TableName:     req.TableName,
		RecordID:      req.RecordID,
		OldValue:      req.OldValue,
		NewValue:      req.NewValue,
		ChangedBy:     op.UserID,
		UserEmail:     op.UserEmail,
		SessionID:     op.SessionID,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeValidation) {
			h.logError(ctx, "failed to record audit change", err)
			err = dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable")
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, logChangeResponse{ID: id})
}

func (h *AuditHandler) logError(ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
}
