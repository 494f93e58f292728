package providers

import (
	"context"
	"errors"
	"fmt"

	"dieselwatch/internal/model"
)

// Adapter fetches observations for one upstream source. Implementations are
// stateless beyond configuration and safe to call concurrently with different
// selectors. Retry policy does not live here; a failed fetch is reported once.
type Adapter interface {
	Source() string
	Endpoint() string
	Fetch(ctx context.Context, selector model.Selector, window model.DateRange) ([]model.Observation, error)
}

// ErrMissingAPIKey means no credential is configured. It is returned before
// any network call is attempted.
var ErrMissingAPIKey = errors.New("providers: api key not configured")

// ErrUnreachable wraps transport failures and timeouts.
var ErrUnreachable = errors.New("providers: upstream unreachable")

// ErrMalformedResponse means the upstream body could not be decoded at all.
// A single bad data point inside an otherwise valid body is skipped instead.
var ErrMalformedResponse = errors.New("providers: malformed response")

// ErrUnknownSelector means the selector is not in the adapter's registry.
var ErrUnknownSelector = errors.New("providers: unknown selector")

// StatusError reports a non-2xx upstream HTTP response.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: upstream returned HTTP %d: %s", e.Source, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: upstream returned HTTP %d", e.Source, e.StatusCode)
}
