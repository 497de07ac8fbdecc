package promptforge

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrQuotaExceeded    = errors.New("promptforge: daily quota exceeded")
	ErrRetryExhausted   = errors.New("promptforge: retry budget exhausted for request")
	ErrInvalidInput     = errors.New("promptforge: invalid input")
	ErrRecordConflict   = errors.New("promptforge: quota record already exists")
	ErrStoreUnavailable = errors.New("promptforge: quota store unavailable")
	ErrFrameworkMissing = errors.New("promptforge: framework id is required")
)

// UpstreamErrorKind classifies failures talking to the LLM provider.
type UpstreamErrorKind int

const (
	// UpstreamTransient covers connection timeouts, resets and transport
	// protocol errors. Transient failures are retried by the call wrapper.
	UpstreamTransient UpstreamErrorKind = iota

	// UpstreamRejected covers definitive non-2xx provider responses
	// (auth failure, bad request, rate limit). Never retried.
	UpstreamRejected

	// UpstreamUnknown covers everything else. Never retried.
	UpstreamUnknown
)

func (k UpstreamErrorKind) String() string {
	switch k {
	case UpstreamTransient:
		return "transient"
	case UpstreamRejected:
		return "rejected"
	case UpstreamUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// UpstreamError wraps a failure from the LLM provider with its classification.
type UpstreamError struct {
	Kind   UpstreamErrorKind
	Status int    // provider HTTP status, set when Kind is UpstreamRejected
	Detail string // excerpt of the provider's error body, if any
	Err    error  // underlying transport or decode error, if any
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("promptforge: upstream %s: status %d: %s", e.Kind, e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("promptforge: upstream %s: status %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("promptforge: upstream %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("promptforge: upstream %s: %s", e.Kind, e.Detail)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// QuotaDeniedError is returned when a reservation is refused, carrying a
// machine-readable quota snapshot for the caller.
type QuotaDeniedError struct {
	Reason error // ErrQuotaExceeded or ErrRetryExhausted
	Status QuotaStatus
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("%v (used %d/%d)", e.Reason, e.Status.Used, e.Status.Limit)
}

func (e *QuotaDeniedError) Unwrap() error {
	return e.Reason
}

// IsQuotaDenied returns true if the error means the user may not generate now,
// either because the daily cap or the per-request retry cap was reached.
func IsQuotaDenied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrRetryExhausted)
}

// IsUpstreamTransient returns true if the error is a retryable provider failure.
func IsUpstreamTransient(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == UpstreamTransient
}

// IsUpstreamRejected returns true if the provider definitively rejected the request.
func IsUpstreamRejected(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == UpstreamRejected
}
