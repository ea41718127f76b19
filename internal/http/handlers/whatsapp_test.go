package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
)

type fakePublisher struct {
	enqueued []chatapp.InboundMessage
	err      error
}

func (f *fakePublisher) Enqueue(_ context.Context, msg chatapp.InboundMessage) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, msg)
	return nil
}

const webhookPayload = `{
	"entry": [{"changes": [{"value": {
		"metadata": {"phone_number_id": "pnid-1"},
		"contacts": [{"profile": {"name": "Juan"}}],
		"messages": [{"id": "wamid.1", "from": "5215512345678", "type": "text", "text": {"body": "hola"}}]
	}}]}]
}`

func TestVerifyEchoesChallenge(t *testing.T) {
	h := NewWhatsAppWebhookHandler(&fakePublisher{}, "tok", nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil)
	rec := httptest.NewRecorder()

	h.Verify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %q", rec.Body.String())
	}
}

func TestVerifyRejectsBadToken(t *testing.T) {
	h := NewWhatsAppWebhookHandler(&fakePublisher{}, "tok", nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	rec := httptest.NewRecorder()

	h.Verify(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestReceiveEnqueuesMessages(t *testing.T) {
	pub := &fakePublisher{}
	h := NewWhatsAppWebhookHandler(pub, "tok", nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(webhookPayload))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(pub.enqueued))
	}
	msg := pub.enqueued[0]
	if msg.MessageID != "wamid.1" || msg.PhoneNumberID != "pnid-1" || msg.Text != "hola" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestReceiveAcksMalformedPayload(t *testing.T) {
	pub := &fakePublisher{}
	h := NewWhatsAppWebhookHandler(pub, "tok", nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("malformed payload must still be acked, got %d", rec.Code)
	}
	if len(pub.enqueued) != 0 {
		t.Fatalf("nothing should be enqueued, got %d", len(pub.enqueued))
	}
}

func TestReceiveAcksEnqueueFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("queue down")}
	h := NewWhatsAppWebhookHandler(pub, "tok", nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(webhookPayload))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue failure must still be acked, got %d", rec.Code)
	}
}
