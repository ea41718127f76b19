package notify

import (
	"context"
	"testing"
)

func TestNewSendGridSenderNilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "citas@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSenderDefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "citas@example.com",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Citas AI" {
		t.Errorf("default from name = %q, want 'Citas AI'", sender.fromName)
	}
}

func TestNewSendGridSenderCustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "citas@example.com",
		FromName:  "Consultorio Ruiz",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Consultorio Ruiz" {
		t.Errorf("from name = %q, want 'Consultorio Ruiz'", sender.fromName)
	}
}

func TestSendGridSenderSendNilClient(t *testing.T) {
	sender := &SendGridSender{}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "doctor@example.com",
		Subject: "Nueva cita",
		Body:    "cuerpo",
	})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSenderSend(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "doctor@example.com",
		Subject: "Nueva cita",
		Body:    "cuerpo",
	})
	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}
