package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Identity headers set by the authenticating proxy in front of mdnorm.
// Authentication itself happens upstream; this service only records who
// acted.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderSessionID = "X-Session-ID"
)

type contextKeyOperator struct{}

// Operator identifies the person behind a request.
type Operator struct {
	UserID    string
	UserEmail string
	SessionID string
}

// GetOperator retrieves the operator from the context.
func GetOperator(ctx context.Context) Operator {
	op, _ := ctx.Value(contextKeyOperator{}).(Operator)
	return op
}

// WithOperator injects an operator into a context.
// Useful for handler tests that skip the middleware chain.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, contextKeyOperator{}, op)
}

// Operators reads the identity headers into the context. It never rejects.
func Operators(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := Operator{
			UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
			UserEmail: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
			SessionID: strings.TrimSpace(r.Header.Get(HeaderSessionID)),
		}
		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), op)))
	})
}

// RequireOperator rejects requests without a user id. Mutating routes use it
// so every audit record names its author.
func RequireOperator(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetOperator(ctx).UserID != "" {
				next.ServeHTTP(w, r)
				return
			}
			logger.WarnContext(ctx, "rejected request without operator identity",
				"request_id", GetRequestID(ctx),
				"path", r.URL.Path,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte(`{"error":"unauthorized","error_description":"Missing X-User-ID header"}`)); err != nil {
				logger.ErrorContext(ctx, "failed to write unauthorized response",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
			}
		})
	}
}
