package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var stripeTracer = otel.Tracer("citas.internal.payments.stripe")

const stripeAPIVersion = "2024-12-18.acacia"

// StripeClient is a thin form-encoded client for the handful of Stripe
// endpoints the platform uses.
type StripeClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

func NewStripeClient(secretKey string, logger *logging.Logger) *StripeClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for tests).
func (c *StripeClient) WithBaseURL(baseURL string) *StripeClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithDryRun makes the client fabricate responses instead of calling Stripe.
func (c *StripeClient) WithDryRun(enabled bool) *StripeClient {
	c.dryRun = enabled
	return c
}

// post executes one form-encoded Stripe call. connectedAccount, when set,
// rides in the Stripe-Account header so the call runs on that account.
func (c *StripeClient) post(ctx context.Context, path string, form url.Values, connectedAccount string, out any) error {
	return c.call(ctx, http.MethodPost, path, form, connectedAccount, out)
}

func (c *StripeClient) get(ctx context.Context, path string, connectedAccount string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, connectedAccount, out)
}

func (c *StripeClient) call(ctx context.Context, method, path string, form url.Values, connectedAccount string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", stripeAPIVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if connectedAccount != "" {
		req.Header.Set("Stripe-Account", connectedAccount)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payments: stripe read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}

func dryRunID(prefix string) string {
	return prefix + "_dryrun_" + uuid.New().String()[:8]
}
