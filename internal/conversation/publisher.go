package conversation

import (
	"context"
	"fmt"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Publisher enqueues inbound messages so the webhook handler can ACK fast.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// Enqueue publishes one inbound message job. The WhatsApp message id doubles
// as job id so queue redeliveries stay correlatable in logs.
func (p *Publisher) Enqueue(ctx context.Context, msg chatapp.InboundMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodePayload(queuePayload{ID: msg.MessageID, Message: msg})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("conversation job enqueued",
		"job_id", payload.ID, "phone_number_id", msg.PhoneNumberID)
	return nil
}
