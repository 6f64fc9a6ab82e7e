package httpstages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dcshock/etlflow/pipeline"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%q: status %d", e.URL, e.StatusCode)
}

// Get returns a stage that performs an HTTP GET to the fixed url and returns the response body as []byte.
// The pipeline context is used for the request (timeout and cancellation). If client is nil, http.DefaultClient is used.
// 5xx and 429 responses and transport failures are marked retryable (see pipeline.IsRetryable).
func Get(client *http.Client, url string) pipeline.Stage {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		body, err := get(ctx, client, url)
		if err != nil {
			return nil, fmt.Errorf("http get %w", err)
		}
		return body, nil
	}
}

// Fetch returns a stage that performs an HTTP GET to the URL from the previous stage's output.
// Input must be a string URL. Returns the response body as []byte. Errors are classified as in Get.
// If client is nil, http.DefaultClient is used.
func Fetch(client *http.Client) pipeline.Stage {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		url, ok := input.(string)
		if !ok {
			return nil, fmt.Errorf("http fetch: input must be URL string, got %T", input)
		}
		body, err := get(ctx, client, url)
		if err != nil {
			return nil, fmt.Errorf("http fetch %w", err)
		}
		return body, nil
	}
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%q: new request: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%q: %w", url, err)
		}
		return nil, pipeline.RetryableErr(fmt.Errorf("%q: %w", url, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		serr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		if temporary(resp.StatusCode) {
			return nil, pipeline.RetryableErr(serr)
		}
		return nil, serr
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.RetryableErr(fmt.Errorf("%q: read body: %w", url, err))
	}
	return body, nil
}

func temporary(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.StatusCode == code
}
