package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	observemetrics "github.com/medagenda/citas-ai-platform/internal/observability/metrics"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

const maxWebhookBody = 1 << 20 // Meta payloads are small; anything bigger is noise.

type inboundPublisher interface {
	Enqueue(ctx context.Context, msg chatapp.InboundMessage) error
}

// WhatsAppWebhookHandler receives Meta's webhook traffic: the one-time
// subscription handshake and the inbound message stream. Processing is
// asynchronous; the POST handler only parses and enqueues, and always
// answers 200 so Meta never retries a payload we already hold.
type WhatsAppWebhookHandler struct {
	publisher   inboundPublisher
	verifyToken string
	metrics     *observemetrics.WebhookMetrics
	logger      *logging.Logger
}

func NewWhatsAppWebhookHandler(publisher inboundPublisher, verifyToken string, m *observemetrics.WebhookMetrics, logger *logging.Logger) *WhatsAppWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		publisher:   publisher,
		verifyToken: verifyToken,
		metrics:     m,
		logger:      logger,
	}
}

// Verify answers the hub challenge Meta sends when the webhook is subscribed.
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := chatapp.VerifyChallenge(r.URL.Query(), h.verifyToken)
	if !ok {
		h.logger.Warn("webhook verification rejected", "remote_ip", r.RemoteAddr)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// Receive ingests a webhook delivery. Malformed payloads and enqueue failures
// are logged but still acknowledged: a non-2xx would make Meta redeliver, and
// the dedup layer downstream already absorbs duplicates.
func (h *WhatsAppWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		w.WriteHeader(http.StatusOK)
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body read failed", "error", err)
		return
	}

	messages, err := chatapp.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("webhook payload unparseable", "error", err)
		h.metrics.ObserveInbound("unknown", "unparseable")
		return
	}
	if len(messages) == 0 {
		// Status-only delivery (sent/read receipts). Nothing to do.
		return
	}

	for _, msg := range messages {
		if err := h.publisher.Enqueue(r.Context(), msg); err != nil {
			h.logger.Error("enqueue inbound message failed",
				"error", err,
				"message_id", msg.MessageID,
				"phone_number_id", msg.PhoneNumberID,
			)
			h.metrics.ObserveInbound(msg.Type, "enqueue_failed")
			continue
		}
		h.metrics.ObserveInbound(msg.Type, "enqueued")
	}
	h.metrics.ObserveLatency("webhook", time.Since(start).Seconds())
}
