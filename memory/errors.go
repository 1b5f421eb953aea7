package memory

import "errors"

// Error kinds shared across the engine. Components wrap these with
// fmt.Errorf("...: %w", err) so callers can test with errors.Is.
var (
	// ErrDimensionMismatch indicates a vector whose dimension differs from
	// the process-wide embedding dimension. This is a misconfiguration and
	// is fatal to the current call.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound indicates a record, node, or edge that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEndpointMissing indicates an edge whose endpoint node is absent.
	ErrEndpointMissing = errors.New("edge endpoint missing")

	// ErrConstraintViolation indicates a write that would break a store
	// constraint (duplicate id, invalid label, malformed property).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrBackendUnavailable indicates a store backend that cannot serve
	// the request (not configured, connection lost).
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTimeout indicates a tier retrieval that missed its deadline.
	ErrTimeout = errors.New("deadline exceeded")

	// ErrInvalidArgument indicates a caller error (negative n, bad budget).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSchemaValidation indicates configuration or snapshot data that
	// failed validation.
	ErrSchemaValidation = errors.New("schema validation failed")
)
