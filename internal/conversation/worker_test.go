package conversation

import (
	"context"
	"testing"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
)

type staticTenants struct {
	tenant *accounts.Account
}

func (s staticTenants) GetByPhoneNumberID(_ context.Context, _ string) (*accounts.Account, error) {
	return s.tenant, nil
}

type denyAllGate struct{}

func (denyAllGate) Allow(_ *accounts.Account) bool { return false }

type recordingRouter struct {
	handled bool
	calls   int
}

func (r *recordingRouter) Handle(_ context.Context, _ *accounts.Account, _ chatapp.InboundMessage) (bool, error) {
	r.calls++
	return r.handled, nil
}

func newWorkerFixture(t *testing.T, opts ...WorkerOption) (*Worker, *fakeMessenger, *fakeSessionStore) {
	t.Helper()
	f := newEngineFixture(t, &scriptedLLM{replies: []string{
		`{"name": ""}`,
		`{"has_appointment_info": false, "name": "", "reason": "", "datetime": "", "email": "", "raw_datetime": ""}`,
		"¡Hola! ¿En qué te ayudo?",
	}}, &fakeChecker{})

	worker := NewWorker(f.engine, NewMemoryQueue(1), staticTenants{tenant: engineTenant()}, f.messenger, nil, opts...)
	return worker, f.messenger, f.store
}

type rejectAllDeduper struct{ calls int }

func (d *rejectAllDeduper) ShouldProcess(_ context.Context, _, _ string) bool {
	d.calls++
	return false
}

func TestWorkerDuplicateMessageIsDropped(t *testing.T) {
	deduper := &rejectAllDeduper{}
	worker, messenger, store := newWorkerFixture(t, WithDeduper(deduper))

	if err := worker.process(context.Background(), textMessage("hola")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if deduper.calls != 1 {
		t.Fatalf("deduper calls = %d", deduper.calls)
	}
	if len(messenger.sent) != 0 {
		t.Error("a duplicate must not produce a reply")
	}
	if store.conv != nil {
		t.Error("a duplicate must not touch the conversation store")
	}
}

func TestWorkerGateDenialSendsSubscriptionMessage(t *testing.T) {
	worker, messenger, store := newWorkerFixture(t, WithAccessGate(denyAllGate{}))

	if err := worker.process(context.Background(), textMessage("hola")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := messenger.last(t).body; got != msgSubscriptionRequired {
		t.Errorf("expected subscription message, got %q", got)
	}
	if store.conv != nil {
		t.Error("gate denial must not touch the conversation store")
	}
}

func TestWorkerReminderRouterShortCircuits(t *testing.T) {
	router := &recordingRouter{handled: true}
	worker, messenger, _ := newWorkerFixture(t, WithReminderRouter(router))

	if err := worker.process(context.Background(), textMessage("confirmar")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if router.calls != 1 {
		t.Fatalf("router calls = %d", router.calls)
	}
	if len(messenger.sent) != 0 {
		t.Error("a handled reminder reply must not reach the engine")
	}
}

func TestWorkerFallsThroughToEngine(t *testing.T) {
	router := &recordingRouter{handled: false}
	worker, messenger, store := newWorkerFixture(t, WithReminderRouter(router))

	if err := worker.process(context.Background(), textMessage("hola")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if router.calls != 1 {
		t.Fatalf("router calls = %d", router.calls)
	}
	if store.conv == nil {
		t.Fatal("engine should have opened a conversation")
	}
	if len(messenger.sent) == 0 {
		t.Fatal("engine should have replied")
	}
}
