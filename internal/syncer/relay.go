package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RelayClient is the HTTP implementation of Transport, speaking a small JSON
// protocol to the AccessMate cloud relay.
type RelayClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

type pushRequest struct {
	Records []*ChangeRecord `json:"records"`
	Cursor  string          `json:"cursor"`
}

type pushResponse struct {
	Cursor string `json:"cursor"`
}

type pullResponse struct {
	Records []*ChangeRecord `json:"records"`
	Cursor  string          `json:"cursor"`
}

// NewRelayClient builds a relay client. httpClient may carry the per-call
// timeout; the engine additionally bounds every call through the context.
func NewRelayClient(httpClient *http.Client, baseURL, token string) *RelayClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RelayClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

func (c *RelayClient) Push(ctx context.Context, records []*ChangeRecord, cursor string) (string, error) {
	var out pushResponse
	err := c.do(ctx, http.MethodPost, "/v1/changes", pushRequest{Records: records, Cursor: cursor}, &out)
	if err != nil {
		return "", err
	}
	return out.Cursor, nil
}

func (c *RelayClient) Pull(ctx context.Context, userID string, since string) ([]*ChangeRecord, string, error) {
	q := "?user_id=" + url.QueryEscape(userID) + "&since=" + url.QueryEscape(since)
	var out pullResponse
	if err := c.do(ctx, http.MethodGet, "/v1/changes"+q, nil, &out); err != nil {
		return nil, "", err
	}
	return out.Records, out.Cursor, nil
}

func (c *RelayClient) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Permanent(fmt.Errorf("marshal request: %w", err))
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are worth retrying.
		return Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Transient(fmt.Errorf("relay returned %s", resp.Status))
	default:
		// Auth failures, malformed requests: retrying will not help.
		return Permanent(fmt.Errorf("relay returned %s", resp.Status))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
