package monitor

import "fmt"

// Cause distinguishes why metrics are unavailable so the dashboard can render
// an actionable message per case.
type Cause string

const (
	CauseNotAuthenticated Cause = "not_authenticated"
	CauseResourceNotFound Cause = "resource_not_found"
	CauseTransport        Cause = "transport_error"
)

// UnavailableError wraps a failed Azure Monitor fetch with its cause.
type UnavailableError struct {
	Cause Cause
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("metrics unavailable (%s): %v", e.Cause, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
