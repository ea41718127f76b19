// Package chatapp is the WhatsApp Business adapter: outbound sends over the
// Graph API and inbound webhook envelope parsing.
package chatapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/phone"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// DefaultGraphBaseURL is Meta's Graph API host and version for messaging.
const DefaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// registration runs on a newer version than messaging.
const registerBaseVersion = "v20.0"

const maxReplyButtons = 3

// Client sends messages for any tenant phone number id using the platform's
// system-user token.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *logging.Logger
}

func NewClient(baseURL, accessToken string, logger *logging.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

// Button is one interactive reply button.
type Button struct {
	ID    string
	Title string
}

// TemplateParams carries ordered text substitutions for a template's body,
// header and URL buttons.
type TemplateParams struct {
	Body    []string
	Header  []string
	Buttons []string
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phone.Canonicalize(to),
		"type":              "text",
		"text":              map[string]any{"body": body},
	}
	return c.send(ctx, phoneNumberID, payload)
}

// SendButtons delivers an interactive message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, phoneNumberID, to, body string, buttons []Button, footer string) (string, error) {
	if len(buttons) == 0 || len(buttons) > maxReplyButtons {
		return "", apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("interactive messages take 1 to %d buttons, got %d", maxReplyButtons, len(buttons)))
	}

	actions := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		actions = append(actions, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": b.ID, "title": b.Title},
		})
	}

	interactive := map[string]any{
		"type":   "button",
		"body":   map[string]any{"text": body},
		"action": map[string]any{"buttons": actions},
	}
	if footer != "" {
		interactive["footer"] = map[string]any{"text": footer}
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phone.Canonicalize(to),
		"type":              "interactive",
		"interactive":       interactive,
	}
	return c.send(ctx, phoneNumberID, payload)
}

// SendTemplate delivers a pre-approved template with ordered parameters.
func (c *Client) SendTemplate(ctx context.Context, phoneNumberID, to, name, language string, params TemplateParams) (string, error) {
	var components []map[string]any
	if len(params.Header) > 0 {
		components = append(components, map[string]any{
			"type":       "header",
			"parameters": textParameters(params.Header),
		})
	}
	if len(params.Body) > 0 {
		components = append(components, map[string]any{
			"type":       "body",
			"parameters": textParameters(params.Body),
		})
	}
	for i, text := range params.Buttons {
		components = append(components, map[string]any{
			"type":       "button",
			"sub_type":   "url",
			"index":      strconv.Itoa(i),
			"parameters": textParameters([]string{text}),
		})
	}

	template := map[string]any{
		"name":     name,
		"language": map[string]any{"code": language},
	}
	if len(components) > 0 {
		template["components"] = components
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phone.Canonicalize(to),
		"type":              "template",
		"template":          template,
	}
	return c.send(ctx, phoneNumberID, payload)
}

func textParameters(values []string) []map[string]any {
	params := make([]map[string]any, 0, len(values))
	for _, v := range values {
		params = append(params, map[string]any{"type": "text", "text": v})
	}
	return params
}

// Register performs the one-shot phone number registration with its PIN.
func (c *Client) Register(ctx context.Context, phoneNumberID, pin, region string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"pin":               pin,
	}
	if region != "" {
		payload["data_localization_region"] = region
	}

	// The register endpoint lives on a newer Graph version than messaging.
	base := c.baseURL
	if idx := strings.LastIndex(base, "/v"); idx >= 0 {
		base = base[:idx] + "/" + registerBaseVersion
	}
	endpoint := fmt.Sprintf("%s/%s/register", base, phoneNumberID)
	_, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return fmt.Errorf("chatapp: register phone %s: %w", phoneNumberID, err)
	}
	c.logger.Info("registered whatsapp phone number", "phone_number_id", phoneNumberID)
	return nil
}

func (c *Client) send(ctx context.Context, phoneNumberID string, payload map[string]any) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID)
	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("chatapp: decode send response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chatapp: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chatapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chatapp: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chatapp: graph api status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
