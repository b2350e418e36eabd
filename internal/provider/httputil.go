package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"paig-gateway/internal/models"
)

const (
	ContentTypeJSON = "application/json"
	UserAgent       = "paig-gateway/0.1"
	maxErrorBody    = 64 * 1024
)

// NewJSONRequest marshals payload into a POST request with JSON headers set.
func NewJSONRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("User-Agent", UserAgent)
	return req, nil
}

// Do sends req and returns the response for 2xx statuses. Any other status is
// drained into a *StatusError and the body closed.
func Do(client *http.Client, kind models.ProviderKind, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", kind, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &StatusError{
		Provider:   kind,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// DecodeJSON reads one JSON document from r into target.
func DecodeJSON(r io.Reader, target any) error {
	if err := json.NewDecoder(r).Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
