package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBytes caps provider response bodies.
const maxResponseBytes = 64 << 20

// GenericClient posts the uniform request contract as JSON to a custom endpoint
// and expects the uniform response contract back.
type GenericClient struct {
	httpClient *http.Client
}

// NewGenericClient creates a GenericClient.
func NewGenericClient(httpClient *http.Client) *GenericClient {
	return &GenericClient{httpClient: httpClient}
}

type genericRequest struct {
	Request
	Model string `json:"model,omitempty"`
}

// Transform implements Client.
func (c *GenericClient) Transform(ctx context.Context, cfg Config, req Request) (*Response, error) {
	body, err := json.Marshal(genericRequest{Request: req, Model: cfg.Model})
	if err != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("encode request: %w", err))
	}

	endpoint := cfg.Endpoint
	if cfg.AuthMode == AuthQuery && cfg.APIKey != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, semanticError(cfg.ID, fmt.Errorf("invalid endpoint: %w", err))
		}
		q := u.Query()
		q.Set("api_key", cfg.APIKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	switch cfg.AuthMode {
	case AuthBearer, "":
		if cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}
	case AuthHeader:
		httpReq.Header.Set("X-API-Key", cfg.APIKey)
	}

	raw, status, err := doRequest(c.httpClient, httpReq)
	if err != nil {
		return nil, transportError(cfg.ID, err)
	}

	var resp Response
	decodeErr := json.Unmarshal(raw, &resp)
	if status >= 300 {
		msg := strings.TrimSpace(resp.Error)
		if decodeErr != nil || msg == "" {
			msg = truncate(strings.TrimSpace(string(raw)), 200)
		}
		return nil, statusError(cfg.ID, status, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("decode response: %w", decodeErr))
	}
	return &resp, nil
}

// doRequest sends req and reads at most maxResponseBytes of the body.
func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
