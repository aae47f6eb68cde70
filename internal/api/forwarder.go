package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Forwarder posts payloads to the upstream payment facilitator. Calls are
// bounded by the client timeout; a timeout is an upstream error, never a
// hang or a policy denial.
type Forwarder struct {
	base   string
	client *http.Client
}

const DefaultUpstreamTimeout = 10 * time.Second

func NewForwarder(base string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &Forwarder{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Forward posts body to {upstream}{path}, propagating the caller's
// Authorization header when present, and returns the upstream status and
// body verbatim. A network failure or a non-JSON upstream body is an error.
func (f *Forwarder) Forward(ctx context.Context, path string, body []byte, authorization string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	if !json.Valid(respBody) {
		return 0, nil, fmt.Errorf("upstream returned non-JSON body (status %d)", resp.StatusCode)
	}
	return resp.StatusCode, respBody, nil
}
