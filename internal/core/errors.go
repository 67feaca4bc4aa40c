// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps a formatted cause under base.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Data errors
	ErrNotFound = &Error{Code: "NOT_FOUND", Message: "not found"}
	ErrNoData   = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrDataGap  = &Error{Code: "DATA_GAP", Message: "missing expected candle"}

	// Pipeline errors
	ErrBusClosed = &Error{Code: "BUS_CLOSED", Message: "event bus closed"}

	// Exchange errors
	ErrAdapter = &Error{Code: "ADAPTER_ERROR", Message: "exchange adapter failed"}

	// Indicator / strategy errors
	ErrInsufficientHistory = &Error{Code: "INSUFFICIENT_HISTORY", Message: "warm-up window not satisfied"}
	ErrStrategyNotFound    = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not registered"}

	// Sizing / portfolio errors
	ErrInvalidSizing    = &Error{Code: "INVALID_SIZING", Message: "sizing rejected"}
	ErrPositionNotFound = &Error{Code: "POSITION_NOT_FOUND", Message: "no open position"}
	ErrPositionExists   = &Error{Code: "POSITION_EXISTS", Message: "position already open"}

	// Simulation errors
	ErrSimulationConfig = &Error{Code: "SIMULATION_CONFIG", Message: "invalid backtest parameters"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
