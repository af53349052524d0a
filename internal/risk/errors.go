package risk

import "errors"

// Sentinel errors shared across the engine. Callers classify with errors.Is
// and map them onto HTTP statuses at the API edge.
var (
	// ErrNotFound indicates an unknown alert id on a lifecycle operation.
	ErrNotFound = errors.New("risk: alert not found")

	// ErrInvalidTransition indicates a lifecycle operation that the state
	// machine does not permit (e.g. acknowledge on a resolved alert).
	ErrInvalidTransition = errors.New("risk: invalid state transition")

	// ErrUpstreamUnavailable indicates the metric source or the notification
	// channel could not be reached.
	ErrUpstreamUnavailable = errors.New("risk: upstream unavailable")

	// ErrInvalidThreshold indicates malformed confidence/hours/exposure
	// parameters, rejected before any store mutation.
	ErrInvalidThreshold = errors.New("risk: invalid threshold parameter")

	// ErrUnknownCurrency indicates a currency pair the engine is not
	// configured to watch.
	ErrUnknownCurrency = errors.New("risk: unknown currency")
)
