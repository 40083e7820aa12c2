package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/internal/resilience"
)

// UserAgent identifies built-in tool requests to public APIs.
const UserAgent = "spacelive/1.0 (+https://github.com/eggyy1224/space-live-project-sub000)"

// HTTPStatusError is returned by [GetJSON] for a non-2xx response.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("tools: GET %s: status %d", e.URL, e.Status)
}

// NewBreaker returns the circuit breaker shared by one built-in tool's
// outbound calls.
func NewBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
	})
}

// GetJSON issues a GET through cb and decodes a 2xx JSON body into out.
// A 404 counts as a successful call for the breaker and is returned as an
// [HTTPStatusError].
func GetJSON(ctx context.Context, client *http.Client, cb *resilience.CircuitBreaker, url string, out any) error {
	var notFound error
	err := cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("tools: build request: %w", err)
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("tools: GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			_, _ = io.Copy(io.Discard, resp.Body)
			notFound = &HTTPStatusError{URL: url, Status: resp.StatusCode}
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &HTTPStatusError{URL: url, Status: resp.StatusCode}
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
			return fmt.Errorf("tools: decode %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return notFound
}
