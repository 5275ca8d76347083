// Package transport defines the minimal HTTP surface the credential
// core depends on. Connection lifetime and pooling belong to the
// injected client, never to this package.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Doer issues a single HTTP request. *http.Client satisfies it; tests
// inject fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxResponseBytes bounds how much of a response body we read.
const maxResponseBytes = 1 << 20

// NewClient returns an HTTP client with the given total-call timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// PostForm issues an application/x-www-form-urlencoded POST and reads
// the response body.
func PostForm(ctx context.Context, d Doer, endpoint string, values url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(d, req)
}

// PostJSON issues an application/json POST and reads the response body.
func PostJSON(ctx context.Context, d Doer, endpoint string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(d, req)
}

// Get issues a GET with optional headers and reads the response body.
func Get(ctx context.Context, d Doer, endpoint string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(d, req)
}

func do(d Doer, req *http.Request) (*Response, error) {
	resp, err := d.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL.Host, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
