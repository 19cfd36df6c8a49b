package domain

import "fmt"

// Error types for consistent error handling across the console. The three
// read paths (decisions, metrics, stream) are independent failure domains;
// these types keep a failure scoped to the path it belongs to.

// FetchTarget identifies which dashboard read path a fetch failure hit.
type FetchTarget string

const (
	TargetDecisions FetchTarget = "decisions"
	TargetMetrics   FetchTarget = "metrics"
)

// ErrAuthFailed indicates the credential exchange was rejected or the
// authentication endpoint was unreachable. The broker never retries it;
// retry policy belongs to the caller.
type ErrAuthFailed struct {
	Status int
	Err    error
}

func (e *ErrAuthFailed) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed: status %d", e.Status)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *ErrAuthFailed) Unwrap() error {
	return e.Err
}

// ErrFetchFailed indicates a dashboard query failed or returned malformed
// data. Target lets the caller render a scoped error without tearing down
// unrelated state.
type ErrFetchFailed struct {
	Target FetchTarget
	Err    error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("%s fetch failed: %v", e.Target, e.Err)
}

func (e *ErrFetchFailed) Unwrap() error {
	return e.Err
}

// ErrStreamFailed indicates the live feed connection could not be opened
// or died on a transport or payload error.
type ErrStreamFailed struct {
	Reason string
	Err    error
}

func (e *ErrStreamFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("live stream failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("live stream failed: %s", e.Reason)
}

func (e *ErrStreamFailed) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}
