package hasura

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

// Client talks to the /v1/query administrative endpoint of a Hasura GraphQL
// engine. All operations are plain JSON POSTs authenticated with the admin
// secret.
type Client struct {
	endpoint    string
	adminSecret string
	httpClient  *http.Client
}

func NewClient(endpoint, adminSecret string) *Client {
	return &Client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		adminSecret: adminSecret,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError is the engine's error envelope.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	Path       string `json:"path"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hasura: %s (code=%s, status=%d)", e.Message, e.Code, e.StatusCode)
}

type request struct {
	Type string `json:"type"`
	Args any    `json:"args"`
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", req.Type, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", req.Type, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Hasura-Admin-Secret", c.adminSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Type, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", req.Type, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", req.Type, err)
		}
	}
	return nil
}
