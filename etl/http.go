package etl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dcshock/etlflow/httpstages"
	"github.com/dcshock/etlflow/pipeline"
)

// APIClient is a Fetcher that calls an API served by APIHandler (or any
// endpoint returning a JSON object) over HTTP.
type APIClient struct {
	stages []pipeline.Stage
}

// NewAPIClient returns a client for url. A nil client uses http.DefaultClient.
func NewAPIClient(client *http.Client, url string) *APIClient {
	return &APIClient{stages: []pipeline.Stage{
		httpstages.Get(client, url),
		httpstages.ParseJSON(),
		httpstages.ExpectKeys(KeyData),
	}}
}

// Call performs the GET. 5xx responses and transport errors are retryable; a
// body without "data" fails with httpstages.ErrUnexpected.
func (c *APIClient) Call(ctx context.Context) (Record, error) {
	var v interface{}
	for _, stage := range c.stages {
		var err error
		if v, err = stage(ctx, v); err != nil {
			return nil, err
		}
	}
	return AsRecord(v)
}

// APIHandler serves api over HTTP: 200 with the record as JSON, or 503 with
// {"error": "..."} when the call fails.
func APIHandler(api Fetcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		rec, err := api.Call(r.Context())
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, context.Canceled) {
				status = http.StatusRequestTimeout
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
