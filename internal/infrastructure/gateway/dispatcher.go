package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout applies when neither the request nor the config set one.
const DefaultTimeout = 20 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Request is one outbound call as seen by a Dispatcher.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the raw answer. A Response with any status code counts as
// "received"; classification happens on the body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Dispatcher sends a request and returns the raw response, or an error when
// nothing was received.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPDispatcher sends requests with net/http.
type HTTPDispatcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPDispatcher creates a dispatcher. A nil client uses a fresh
// http.Client; timeout <= 0 means DefaultTimeout.
func NewHTTPDispatcher(client *http.Client, timeout time.Duration) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPDispatcher{client: client, timeout: timeout}
}

// Dispatch performs a single HTTP round trip.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, r Request) (*Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}
