package webchat

import (
	"context"
	"sync"
	"testing"

	"github.com/medagenda/citas-ai-platform/internal/chatapp"
)

func collector() (sessionSink, func() []OutboundMessage) {
	var mu sync.Mutex
	var frames []OutboundMessage
	sink := func(msg OutboundMessage) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, msg)
	}
	return sink, func() []OutboundMessage {
		mu.Lock()
		defer mu.Unlock()
		return frames
	}
}

func TestSendTextPushesFrame(t *testing.T) {
	h := NewHandler(&echoEngine{}, &stubTenants{}, nil, nil, nil)
	sink, frames := collector()
	h.register("web-s1", sink)

	m := NewReplyMessenger(h, nil)
	id, err := m.SendText(context.Background(), "pnid-1", "web-s1", "hola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id == "" {
		t.Fatal("expected a message id")
	}

	got := frames()
	if len(got) != 1 || got[0].Type != "message" || got[0].Text != "hola" || got[0].Role != "assistant" {
		t.Fatalf("unexpected frames: %+v", got)
	}
}

func TestSendButtonsCarriesOptions(t *testing.T) {
	h := NewHandler(&echoEngine{}, &stubTenants{}, nil, nil, nil)
	sink, frames := collector()
	h.register("web-s1", sink)

	m := NewReplyMessenger(h, nil)
	buttons := []chatapp.Button{{ID: "confirm", Title: "Sí, confirmar"}, {ID: "cancel", Title: "Cancelar"}}
	if _, err := m.SendButtons(context.Background(), "pnid-1", "web-s1", "¿Confirmas tu cita?", buttons, "Responde con una opción"); err != nil {
		t.Fatalf("SendButtons: %v", err)
	}

	got := frames()
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if len(got[0].Options) != 2 || got[0].Options[0] != "Sí, confirmar" {
		t.Fatalf("options missing: %+v", got[0])
	}
	if got[0].Text != "¿Confirmas tu cita?\n\nResponde con una opción" {
		t.Fatalf("footer not appended: %q", got[0].Text)
	}
}

func TestPushToMissingSessionIsDropped(t *testing.T) {
	h := NewHandler(&echoEngine{}, &stubTenants{}, nil, nil, nil)
	m := NewReplyMessenger(h, nil)
	if _, err := m.SendText(context.Background(), "pnid-1", "web-ghost", "hola"); err != nil {
		t.Fatalf("drop must not error: %v", err)
	}
}
