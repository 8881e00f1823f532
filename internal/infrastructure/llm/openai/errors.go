package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "openai status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("openai %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("openai %s status: %s: %s", e.Operation, e.Status, e.Body)
}

// RateLimitError carries the server-provided retry-after hint up to the
// retry layer; the client itself never retries.
type RateLimitError struct {
	*HTTPStatusError
	RetryAfter time.Duration
}

func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

func (e *RateLimitError) Unwrap() error { return e.HTTPStatusError }

// tagSeverity pre-classifies a transport/protocol failure with a domain kind
// so the retry layer can decide without knowing HTTP.
func tagSeverity(operation string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return domain.WrapError(domain.ErrTransient, operation, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized,
			statusErr.StatusCode == http.StatusForbidden:
			return domain.WrapError(domain.ErrPermanent, operation, err)
		case statusErr.StatusCode >= 500,
			statusErr.StatusCode == http.StatusRequestTimeout:
			return domain.WrapError(domain.ErrTransient, operation, err)
		default:
			return domain.WrapError(domain.ErrPermanent, operation, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTransient, operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTransient, operation, err)
	}
	// url.Error wraps timeouts from the client's Timeout field.
	if strings.Contains(err.Error(), "Client.Timeout exceeded") {
		return domain.WrapError(domain.ErrTransient, operation, err)
	}

	return domain.WrapError(domain.ErrPermanent, operation, err)
}
