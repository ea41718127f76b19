package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Queue is the job transport the publisher and worker share. SQSQueue and
// MemoryQueue both implement it.
type Queue = queueClient

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// queuePayload is one inbound-message job. The webhook handler has already
// deduplicated and parsed; the worker re-resolves the tenant from the phone
// number id so routing survives account edits in flight.
type queuePayload struct {
	ID      string                 `json:"id"`
	Message chatapp.InboundMessage `json:"message"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}
