// Package crm is the LeadConnector-compatible calendar/CRM adapter: contacts,
// appointments and slot availability, all authenticated through the per-tenant
// OAuth token manager.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/tokens"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

const (
	// DefaultBaseURL is the public LeadConnector API host.
	DefaultBaseURL = "https://services.leadconnectorhq.com"

	apiVersion = "2021-07-28"
	// The blocked-slots endpoint still runs on the older version tag.
	blockedSlotsVersion = "2021-04-15"
)

// TokenSource hands out a valid access token for a tenant, refreshing when
// needed. *tokens.Manager satisfies it.
type TokenSource interface {
	EnsureValid(ctx context.Context, tenantID string) (tokens.Token, error)
}

// Client is the authenticated HTTP client for the CRM API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(baseURL string, source TokenSource, logger *logging.Logger) *Client {
	if source == nil {
		panic("crm: token source required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     source,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// apiError carries the CRM's non-2xx response so callers can inspect the body
// (the duplicate-contact 400 hides the existing contact id in there).
type apiError struct {
	Status int
	Body   []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("crm: api status %d: %s", e.Status, string(e.Body))
}

// do executes one authenticated CRM call. A non-2xx response returns
// *apiError; token failures propagate from the token manager untouched so
// the boundary can surface the reauthorize hint.
func (c *Client) do(ctx context.Context, tenantID, method, path string, query url.Values, body any, version string, out any) error {
	tok, err := c.tokens.EnsureValid(ctx, tenantID)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("crm: encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("crm: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Version", version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("crm: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: data}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("crm: decode response: %w", err)
	}
	return nil
}

// msEpoch renders an instant the way the slot endpoints expect it.
func msEpoch(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
