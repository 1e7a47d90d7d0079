package speech

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies a provider failure for retry and breaker policy.
type ErrKind int

const (
	// KindTransient covers network timeouts, connection resets, and 5xx
	// responses. Transient errors are retried within an attempt and count
	// as one breaker failure once the retry budget is exhausted.
	KindTransient ErrKind = iota

	// KindAuth covers bad or expired credentials. Never retried.
	KindAuth

	// KindValidation covers malformed requests the vendor rejected. Never
	// retried and never charged to the breaker.
	KindValidation

	// KindQuota covers vendor-side rate limiting (429). Treated like a
	// local rate-limiter rejection: skip the provider, don't poison the
	// breaker.
	KindQuota
)

// String returns the taxonomy name of the kind.
func (k ErrKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindQuota:
		return "quota"
	default:
		return "unknown"
	}
}

// ProviderError is the structured failure every adapter reports. Wrap the
// underlying vendor error so callers can still inspect it with [errors.As].
type ProviderError struct {
	// Provider names the adapter that failed.
	Provider string

	// Kind classifies the failure.
	Kind ErrKind

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with the given provider name and kind.
func NewProviderError(provider string, kind ErrKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// kindOf extracts the ErrKind from err. Errors that are not a
// [*ProviderError] default to transient — an unclassified failure from an
// adapter is most likely a network-level problem, and defaulting to
// transient keeps the retry and breaker semantics conservative.
func kindOf(err error) ErrKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsTransient reports whether err is retryable within a single attempt.
func IsTransient(err error) bool { return err != nil && kindOf(err) == KindTransient }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return err != nil && kindOf(err) == KindAuth }

// IsValidation reports whether err is a request-validation failure.
func IsValidation(err error) bool { return err != nil && kindOf(err) == KindValidation }

// IsQuota reports whether err is a vendor-side quota rejection.
func IsQuota(err error) bool { return err != nil && kindOf(err) == KindQuota }

// KindForHTTPStatus maps a vendor HTTP status code onto the error taxonomy.
// Adapters use it so every vendor classifies failures the same way.
func KindForHTTPStatus(code int) ErrKind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindQuota
	case code >= 400 && code < 500:
		return KindValidation
	default:
		return KindTransient
	}
}

// ErrInvalidRequest is returned before any provider is attempted when the
// request itself is malformed (empty payload, bad language tag).
var ErrInvalidRequest = errors.New("speech: invalid request")

// ExhaustedError is the terminal failure returned when every candidate
// provider was skipped or failed.
type ExhaustedError struct {
	// Category is the operation family that was requested.
	Category Category

	// Attempted lists the providers that were actually invoked, in order.
	// Providers skipped by the breaker or rate limiter are not included.
	Attempted []string

	// LastErr is the last underlying provider error, or nil when every
	// candidate was skipped without an attempt.
	LastErr error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("speech: no %s provider available", e.Category)
	}
	return fmt.Sprintf("speech: all %s providers exhausted (attempted %s): %v",
		e.Category, strings.Join(e.Attempted, ", "), e.LastErr)
}

// Unwrap returns the last underlying provider error.
func (e *ExhaustedError) Unwrap() error { return e.LastErr }
