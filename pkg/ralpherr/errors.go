// Package ralpherr defines the closed set of error kinds used throughout the
// orchestrator, per the error-handling design: TransportError, SemanticError,
// SchemaError, BudgetExhausted, CoordinationTimeout, PersistenceError, and
// FatalConfig.
package ralpherr

import "errors"

// Sentinel errors. Call sites wrap these with fmt.Errorf("...: %w", Err...)
// so errors.Is/errors.As keep working across the call stack.
var (
	ErrTransport           = errors.New("transport error")
	ErrSemantic            = errors.New("semantic error")
	ErrSchema              = errors.New("schema error")
	ErrBudgetExhausted     = errors.New("budget exhausted")
	ErrCoordinationTimeout = errors.New("coordination timeout")
	ErrPersistence         = errors.New("persistence error")
	ErrFatalConfig         = errors.New("fatal config error")
)

// Kind returns the stable string name of the error kind for logging, or ""
// if err does not match any known kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "TransportError"
	case errors.Is(err, ErrSemantic):
		return "SemanticError"
	case errors.Is(err, ErrSchema):
		return "SchemaError"
	case errors.Is(err, ErrBudgetExhausted):
		return "BudgetExhausted"
	case errors.Is(err, ErrCoordinationTimeout):
		return "CoordinationTimeout"
	case errors.Is(err, ErrPersistence):
		return "PersistenceError"
	case errors.Is(err, ErrFatalConfig):
		return "FatalConfig"
	default:
		return "Unknown"
	}
}
