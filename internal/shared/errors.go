package shared

import "errors"

// Machine-readable failure codes surfaced to callers. Structured results
// carry one of these alongside a human reason string.
const (
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeCapabilityNotFound = "CAPABILITY_NOT_FOUND"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeSourceUnavailable  = "SOURCE_UNAVAILABLE"
	CodeExecutionError     = "EXECUTION_ERROR"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable indicates the role/permission store could not be reached.
	ErrStoreUnavailable = errors.New("permission store unavailable")
)
