package webchat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// ReplyMessenger adapts the session registry to the engine's Messenger
// interface, so a second engine instance can serve the web channel: texts
// become message frames, button prompts become messages with quick-reply
// options. A tapped option travels back as plain text, which the engine's
// keyword matching already accepts.
type ReplyMessenger struct {
	handler *Handler
	logger  *logging.Logger
}

func NewReplyMessenger(handler *Handler, logger *logging.Logger) *ReplyMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyMessenger{handler: handler, logger: logger}
}

// SendText pushes an assistant message to the session identified by to.
func (m *ReplyMessenger) SendText(_ context.Context, _, to, body string) (string, error) {
	m.handler.push(to, OutboundMessage{
		Type:      "message",
		Role:      "assistant",
		Text:      body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return uuid.NewString(), nil
}

// SendButtons pushes an assistant message with quick-reply options.
func (m *ReplyMessenger) SendButtons(_ context.Context, _, to, body string, buttons []chatapp.Button, footer string) (string, error) {
	text := body
	if footer != "" {
		text += "\n\n" + footer
	}
	options := make([]string, 0, len(buttons))
	for _, b := range buttons {
		options = append(options, b.Title)
	}
	m.handler.push(to, OutboundMessage{
		Type:      "message",
		Role:      "assistant",
		Text:      text,
		Options:   options,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return uuid.NewString(), nil
}
