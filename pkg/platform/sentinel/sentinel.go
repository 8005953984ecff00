package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Record and audit stores return
// these (wrapped with %w) so services can translate them into domain errors
// or per-item statuses:
//   - ErrNotFound: no audit record or row matches the lookup
//   - ErrConflict: a lock or unique key is already held
//   - ErrUnavailable: the backing store cannot be reached
//   - ErrInvalidInput: the store rejected a table, column or filter
//
// Validation of operator input belongs in pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidInput = errors.New("invalid input")
)
