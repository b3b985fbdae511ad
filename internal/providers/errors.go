package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aristath/marketcore/internal/domain"
)

// Transient builds a retriable upstream error.
func Transient(provider, op string, status int, err error) error {
	return &domain.UpstreamError{Provider: provider, Op: op, StatusCode: status, Err: err, Retriable: true}
}

// Permanent builds a non-retriable upstream error.
func Permanent(provider, op string, err error) error {
	return &domain.UpstreamError{Provider: provider, Op: op, Err: err}
}

// StatusError classifies a non-200 response. 429 and 5xx are worth retrying;
// any other 4xx is not.
func StatusError(provider, op string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	err := errors.New(msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return Transient(provider, op, status, err)
	}
	return &domain.UpstreamError{Provider: provider, Op: op, StatusCode: status, Err: err}
}

// NotFound wraps domain.ErrInvalidSymbol for symbols the upstream doesn't know.
func NotFound(provider, op, symbol string) error {
	return &domain.UpstreamError{
		Provider:   provider,
		Op:         op,
		StatusCode: http.StatusNotFound,
		Err:        fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, symbol),
	}
}

// Unsupported wraps domain.ErrUnsupported.
func Unsupported(provider, op string) error {
	return &domain.UpstreamError{Provider: provider, Op: op, Err: domain.ErrUnsupported}
}
