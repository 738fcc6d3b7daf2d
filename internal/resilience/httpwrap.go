package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// HTTPClient guards an http.Client with a per-call timeout and a circuit
// breaker. It never repeats a request; retries belong to the caller.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do sends the request once. Transport errors, 5xx and 429 responses are
// reported to the breaker as failures. When the breaker is open
// ErrOpenCircuit is returned without touching the network.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		cl.report(ctx, false)
		return nil, err
	}
	cl.report(ctx, !failureStatus(resp.StatusCode))
	// the call context must outlive Do so the caller can read the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) report(ctx context.Context, success bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
}

func failureStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
