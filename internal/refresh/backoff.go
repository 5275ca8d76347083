package refresh

import (
	"context"
	"errors"
	"net/url"

	"github.com/schmitthub/credkeep/internal/transport"
)

// postFormRetry issues the form POST with the shared bounded-backoff
// policy, translating an exhausted budget into a TransportError.
func postFormRetry(ctx context.Context, d transport.Doer, operation, endpoint string, values url.Values) (*transport.Response, error) {
	resp, err := transport.WithRetry(ctx, operation, func() (*transport.Response, error) {
		return transport.PostForm(ctx, d, endpoint, values)
	})
	return resp, translateRetryErr(operation, err)
}

// getRetry issues the GET with the same policy.
func getRetry(ctx context.Context, d transport.Doer, operation, endpoint string, headers map[string]string) (*transport.Response, error) {
	resp, err := transport.WithRetry(ctx, operation, func() (*transport.Response, error) {
		return transport.Get(ctx, d, endpoint, headers)
	})
	return resp, translateRetryErr(operation, err)
}

func translateRetryErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	var ree *transport.RetriesExceededError
	if errors.As(err, &ree) {
		return &TransportError{Operation: operation, Err: ree.Err}
	}
	return err
}
