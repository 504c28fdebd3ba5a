// Provides common nmemory errors definitions.
package nmemory_errors

import "errors"

var (
	ErrNotFound            = errors.New("nmemory: entity not found")
	ErrConstraintViolation = errors.New("nmemory: constraint violation")
	ErrConcurrencyTimeout  = errors.New("nmemory: lock wait timed out")
	ErrPlanExecution       = errors.New("nmemory: plan execution failed")

	ErrSchemaMismatch = errors.New("nmemory: entity shape does not match table schema")
	ErrUnknownField   = errors.New("nmemory: unknown field")
	ErrUnknownTable   = errors.New("nmemory: unknown table")
	ErrNoSuchIndex    = errors.New("nmemory: no index over the requested key")
)
