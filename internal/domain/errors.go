package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks "no data for this symbol this cycle". Workers skip
	// the symbol and continue.
	ErrUnavailable = errors.New("market data unavailable")
	// ErrUnsupported is returned when a provider lacks the requested capability.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrInvalidSymbol is returned for symbols a provider cannot resolve.
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// UpstreamError describes a failed provider call.
type UpstreamError struct {
	Err        error
	Provider   string
	Op         string
	StatusCode int
	Retriable  bool
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is worth another attempt. Unknown errors are
// treated as transient.
func IsRetriable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retriable
	}
	if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrInvalidSymbol) {
		return false
	}
	return true
}

// UnavailableError is the typed outcome returned when neither a live fetch nor
// the cache can produce data.
type UnavailableError struct {
	Cause    error
	Identity ProviderIdentity
	Symbol   string
	Kind     ArtifactKind
	Reason   string
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s %s %s unavailable: %s", e.Identity, e.Kind, e.Symbol, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}
