package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	xhttp "ForecastGate/pkg/http"
)

// httpBase centralizes JSON POST handling against the engine process.
type httpBase struct {
	baseURL string
	client  *xhttp.Client
	observe CallObserver
}

func newHTTPBase(baseURL string, timeout time.Duration, rt http.RoundTripper, observe CallObserver) *httpBase {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(timeout)}
	if rt != nil {
		opts = append(opts, xhttp.WithTransport(rt))
	}
	if observe == nil {
		observe = func(string, time.Duration, error) {}
	}
	return &httpBase{baseURL: baseURL, client: xhttp.NewClient(opts...), observe: observe}
}

// postJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *httpBase) postJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("engine http client not initialized")
	}
	start := time.Now()
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	b.observe(path, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// postJSONWithRetry retries transient failures up to attempts times with linear backoff.
func (b *httpBase) postJSONWithRetry(ctx context.Context, path string, payload, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.postJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.postJSON(ctx, path, payload, dest)
		if err == nil || !transient(err) {
			return err
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// transient reports whether a retry could help: transport errors and 5xx responses.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}
