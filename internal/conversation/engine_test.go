package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/internal/payments"
)

type fakeSessionStore struct {
	conv *Conversation
}

func (f *fakeSessionStore) GetOrCreate(_ context.Context, tenantID, phone string) (*Conversation, error) {
	if f.conv == nil {
		f.conv = &Conversation{
			ID:       sessionID(tenantID, phone, 1),
			TenantID: tenantID,
			Phone:    phone,
			Session:  1,
			Status:   StatusActive,
		}
	}
	return f.conv, nil
}

func (f *fakeSessionStore) AppendMessage(_ context.Context, _ string, msg Message) error {
	// The engine maintains its own in-memory copy; nothing to do here.
	return nil
}

func (f *fakeSessionStore) UpdateContext(_ context.Context, _ string, c Context) error {
	f.conv.Context = c
	return nil
}

type sentMessage struct {
	body    string
	buttons []chatapp.Button
}

type fakeMessenger struct {
	sent []sentMessage
}

func (f *fakeMessenger) SendText(_ context.Context, _, _, body string) (string, error) {
	f.sent = append(f.sent, sentMessage{body: body})
	return "wamid.1", nil
}

func (f *fakeMessenger) SendButtons(_ context.Context, _, _, body string, buttons []chatapp.Button, _ string) (string, error) {
	f.sent = append(f.sent, sentMessage{body: body, buttons: buttons})
	return "wamid.2", nil
}

func (f *fakeMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeContacts struct {
	created int
	updated int
}

func (f *fakeContacts) FindOrCreateContact(_ context.Context, _, _, name, phone, _ string) (*crm.Contact, error) {
	f.created++
	return &crm.Contact{ID: "contact-1", FirstName: name, Phone: phone}, nil
}

func (f *fakeContacts) UpdateContact(_ context.Context, _, _, _, _, _ string) error {
	f.updated++
	return nil
}

type fakeChecker struct {
	result availability.Result
	err    error
}

func (f *fakeChecker) Check(_ context.Context, _ *accounts.Account, _ time.Time) (availability.Result, error) {
	return f.result, f.err
}

type fakeBookings struct {
	created   []*bookings.Booking
	updated   map[string]time.Time
	linked    map[string]string
	cancelled []string
}

func (f *fakeBookings) Create(_ context.Context, b *bookings.Booking) error {
	b.ID = "booking-1"
	f.created = append(f.created, b)
	return nil
}

func (f *fakeBookings) UpdateAppointmentTime(_ context.Context, id string, at time.Time, _, _ string) error {
	if f.updated == nil {
		f.updated = map[string]time.Time{}
	}
	f.updated[id] = at
	return nil
}

func (f *fakeBookings) LinkPayment(_ context.Context, id, paymentID string) error {
	if f.linked == nil {
		f.linked = map[string]string{}
	}
	f.linked[id] = paymentID
	return nil
}

func (f *fakeBookings) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeFinalizer struct {
	finalized    []string
	rescheduled  []string
	rescheduleAt time.Time
}

func (f *fakeFinalizer) Finalize(_ context.Context, bookingID string) error {
	f.finalized = append(f.finalized, bookingID)
	return nil
}

func (f *fakeFinalizer) Reschedule(_ context.Context, _ *accounts.Account, _, appointmentID string, at time.Time) error {
	f.rescheduled = append(f.rescheduled, appointmentID)
	f.rescheduleAt = at
	return nil
}

type fakeCheckout struct {
	sessions int
	err      error
}

func (f *fakeCheckout) CreateBookingCheckout(_ context.Context, p payments.CheckoutParams) (*payments.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sessions++
	return &payments.CheckoutSession{
		ID:          "cs_test",
		URL:         "https://checkout.stripe.com/pay/cs_test",
		AmountCents: p.Tenant.Payments.PriceCents,
		Currency:    p.Tenant.CurrencyOrDefault(),
		ExpiresAt:   time.Now().Add(30 * time.Minute),
	}, nil
}

// scriptedLLM returns canned completions in order.
type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Complete(_ context.Context, _ LLMRequest) (LLMResponse, error) {
	if s.calls >= len(s.replies) {
		return LLMResponse{}, errors.New("scripted llm exhausted")
	}
	text := s.replies[s.calls]
	s.calls++
	return LLMResponse{Text: text}, nil
}

type engineFixture struct {
	engine    *Engine
	store     *fakeSessionStore
	messenger *fakeMessenger
	contacts  *fakeContacts
	checker   *fakeChecker
	bookings  *fakeBookings
	finalizer *fakeFinalizer
	checkout  *fakeCheckout
}

func newEngineFixture(t *testing.T, llm LLMClient, checker *fakeChecker) *engineFixture {
	t.Helper()
	assistant := NewAssistant(llm, "test-model", 0.2, nil)
	assistant.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	f := &engineFixture{
		store:     &fakeSessionStore{},
		messenger: &fakeMessenger{},
		contacts:  &fakeContacts{},
		checker:   checker,
		bookings:  &fakeBookings{},
		finalizer: &fakeFinalizer{},
		checkout:  &fakeCheckout{},
	}
	f.engine = NewEngine(f.store, assistant, f.messenger, f.contacts, f.checker,
		f.bookings, f.finalizer, f.checkout, nil)
	return f
}

func engineTenant() *accounts.Account {
	return &accounts.Account{
		ID:            "t-1",
		Name:          "Dra. García",
		PhoneNumberID: "pnid-1",
		CalendarID:    "cal-1",
		LocationID:    "loc-1",
		Timezone:      "America/Mexico_City",
		Status:        accounts.StatusActive,
	}
}

func exactResult(t *testing.T) availability.Result {
	t.Helper()
	loc, _ := time.LoadLocation("America/Mexico_City")
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	return availability.Result{
		Status:    availability.StatusExact,
		Requested: at,
		Slots: []availability.Slot{
			{At: at, Date: "2026-03-02", Time: "10:00", Display: "lunes 2 de marzo, 10:00 am"},
		},
	}
}

func textMessage(text string) chatapp.InboundMessage {
	return chatapp.InboundMessage{
		MessageID:     "wamid.in",
		From:          "5213312345678",
		PhoneNumberID: "pnid-1",
		Type:          chatapp.TypeText,
		Text:          text,
	}
}

func buttonMessage(id string) chatapp.InboundMessage {
	msg := textMessage("")
	msg.Type = chatapp.TypeInteractive
	msg.ButtonID = id
	return msg
}

func TestCompleteIntentSendsConfirmationButtons(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"name": "Juan Pérez"}`,
		`{"has_appointment_info": true, "name": "Juan Pérez", "reason": "dolor de espalda", "datetime": "2026-03-02T10:00:00", "email": "", "raw_datetime": "lunes a las 10"}`,
	}}
	f := newEngineFixture(t, llm, &fakeChecker{result: exactResult(t)})

	err := f.engine.HandleMessage(context.Background(), engineTenant(),
		textMessage("Hola, soy Juan Pérez, quiero cita el lunes a las 10 por dolor de espalda"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if f.contacts.created != 1 {
		t.Errorf("contact should be created once, got %d", f.contacts.created)
	}
	if len(f.bookings.created) != 1 {
		t.Fatalf("expected one booking, got %d", len(f.bookings.created))
	}
	booking := f.bookings.created[0]
	if booking.Source != bookings.SourceChat || booking.Status != bookings.StatusPending {
		t.Errorf("booking source/status = %s/%s", booking.Source, booking.Status)
	}

	c := f.store.conv.Context
	if !c.AwaitingConfirmation || !c.ExactMatch || c.BookingID != "booking-1" {
		t.Errorf("context not set up for confirmation: %+v", c)
	}

	last := f.messenger.last(t)
	if len(last.buttons) != 2 {
		t.Fatalf("expected confirm/cancel buttons, got %d", len(last.buttons))
	}
	if last.buttons[0].ID != ButtonConfirmBooking || last.buttons[1].ID != ButtonCancelBooking {
		t.Errorf("button ids = %s/%s", last.buttons[0].ID, last.buttons[1].ID)
	}
}

func TestIncompleteIntentGetsConversationalReply(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"name": ""}`,
		`{"has_appointment_info": false, "name": "", "reason": "", "datetime": "", "email": "", "raw_datetime": ""}`,
		"¡Hola! Con gusto te agendo. ¿Me dices tu nombre?",
	}}
	f := newEngineFixture(t, llm, &fakeChecker{})

	if err := f.engine.HandleMessage(context.Background(), engineTenant(), textMessage("Hola")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if len(f.bookings.created) != 0 {
		t.Error("no booking should exist before a complete intent")
	}
	if got := f.messenger.last(t).body; !strings.Contains(got, "nombre") {
		t.Errorf("expected the LLM reply, got %q", got)
	}
}

func TestConfirmWithoutPaymentsFinalizes(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			UserName:             "Juan",
			AwaitingConfirmation: true,
			ExactMatch:           true,
			BookingID:            "booking-1",
			Intent:               &Intent{Name: "Juan", Reason: "consulta", At: time.Now().Add(24 * time.Hour)},
		},
	}

	err := f.engine.HandleMessage(context.Background(), engineTenant(), buttonMessage(ButtonConfirmBooking))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(f.finalizer.finalized) != 1 || f.finalizer.finalized[0] != "booking-1" {
		t.Fatalf("finalizer calls = %v", f.finalizer.finalized)
	}
	if f.checkout.sessions != 0 {
		t.Error("no checkout session should be created for payments-disabled tenants")
	}
	if f.store.conv.Context.AwaitingConfirmation {
		t.Error("awaiting_confirmation must clear on confirm")
	}
}

func TestConfirmWithPaymentsSendsCheckoutLink(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			UserName:             "Juan",
			AwaitingConfirmation: true,
			ExactMatch:           true,
			BookingID:            "booking-1",
			Intent:               &Intent{Name: "Juan", Reason: "consulta", At: time.Now().Add(24 * time.Hour)},
		},
	}

	tenant := engineTenant()
	tenant.Payments = accounts.PaymentsBlock{
		Enabled:            true,
		ConnectedAccountID: "acct_1",
		OnboardingComplete: true,
		ChargesEnabled:     true,
		PriceCents:         50000,
		Currency:           "mxn",
	}

	err := f.engine.HandleMessage(context.Background(), tenant, buttonMessage(ButtonConfirmBooking))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if f.checkout.sessions != 1 {
		t.Fatalf("expected one checkout session, got %d", f.checkout.sessions)
	}
	if f.bookings.linked["booking-1"] != "cs_test" {
		t.Errorf("payment not linked: %v", f.bookings.linked)
	}
	if len(f.finalizer.finalized) != 0 {
		t.Error("payment-gated bookings finalize from the webhook, not on confirm")
	}
	body := f.messenger.last(t).body
	if !strings.Contains(body, "https://checkout.stripe.com/pay/cs_test") || !strings.Contains(body, "30 minutos") {
		t.Errorf("checkout message = %q", body)
	}
	if !strings.Contains(body, "$500.00 MXN") {
		t.Errorf("checkout message must show the price, got %q", body)
	}
}

func TestConfirmWithMisconfiguredPayments(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			AwaitingConfirmation: true,
			ExactMatch:           true,
			BookingID:            "booking-1",
			Intent:               &Intent{Name: "Juan", Reason: "consulta", At: time.Now().Add(24 * time.Hour)},
		},
	}

	tenant := engineTenant()
	tenant.Payments = accounts.PaymentsBlock{Enabled: true} // nothing configured

	err := f.engine.HandleMessage(context.Background(), tenant, buttonMessage(ButtonConfirmBooking))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if f.checkout.sessions != 0 || len(f.finalizer.finalized) != 0 {
		t.Error("misconfigured payments must not checkout or finalize")
	}
	body := f.messenger.last(t).body
	if !strings.Contains(body, "cuenta de pagos") {
		t.Errorf("expected the configuration message, got %q", body)
	}
}

func TestCancelKeywordCancelsDraft(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			AwaitingConfirmation: true,
			ExactMatch:           true,
			BookingID:            "booking-1",
			Intent:               &Intent{Name: "Juan", Reason: "consulta", At: time.Now().Add(24 * time.Hour)},
		},
	}

	if err := f.engine.HandleMessage(context.Background(), engineTenant(), textMessage("No quiero")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(f.bookings.cancelled) != 1 {
		t.Fatalf("draft booking should be cancelled, got %v", f.bookings.cancelled)
	}
	c := f.store.conv.Context
	if c.AwaitingConfirmation || c.BookingID != "" || c.Intent != nil {
		t.Errorf("context should be cleared: %+v", c)
	}
}

func TestAlternativeIndexSelection(t *testing.T) {
	loc, _ := time.LoadLocation("America/Mexico_City")
	alt1 := SlotOption{At: time.Date(2026, 3, 2, 11, 0, 0, 0, loc), Date: "2026-03-02", Time: "11:00", Display: "lunes 2 de marzo, 11:00 am"}
	alt2 := SlotOption{At: time.Date(2026, 3, 2, 16, 0, 0, 0, loc), Date: "2026-03-02", Time: "16:00", Display: "lunes 2 de marzo, 4:00 pm"}

	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			UserName:             "Juan",
			AwaitingConfirmation: true,
			ExactMatch:           false,
			BookingID:            "booking-1",
			Alternatives:         []SlotOption{alt1, alt2},
			Intent:               &Intent{Name: "Juan", Reason: "consulta"},
		},
	}

	if err := f.engine.HandleMessage(context.Background(), engineTenant(), textMessage("2")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if got := f.bookings.updated["booking-1"]; !got.Equal(alt2.At) {
		t.Errorf("booking time = %v, want %v", got, alt2.At)
	}
	c := f.store.conv.Context
	if !c.ExactMatch || len(c.Alternatives) != 1 || !c.AwaitingConfirmation {
		t.Errorf("context after selection: %+v", c)
	}
	if c.Intent.At != alt2.At {
		t.Errorf("intent datetime = %v, want %v", c.Intent.At, alt2.At)
	}
	last := f.messenger.last(t)
	if len(last.buttons) != 2 {
		t.Errorf("selection must re-issue confirm buttons, got %d", len(last.buttons))
	}
}

func TestOutOfRangeIndexAsksAgain(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			AwaitingConfirmation: true,
			Alternatives:         []SlotOption{{Display: "x"}, {Display: "y"}},
		},
	}

	if err := f.engine.HandleMessage(context.Background(), engineTenant(), textMessage("7")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := f.messenger.last(t).body; got != msgInvalidOption {
		t.Errorf("expected correction prompt, got %q", got)
	}
	if !f.store.conv.Context.AwaitingConfirmation {
		t.Error("awaiting_confirmation must survive an out-of-range pick")
	}
}

func TestConfirmReschedulesReminderAppointment(t *testing.T) {
	loc, _ := time.LoadLocation("America/Mexico_City")
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, loc)

	f := newEngineFixture(t, &scriptedLLM{}, &fakeChecker{})
	f.store.conv = &Conversation{
		ID: "t-1_5213312345678", TenantID: "t-1", Phone: "5213312345678", Session: 1,
		Status: StatusActive,
		Context: Context{
			AwaitingConfirmation:      true,
			ExactMatch:                true,
			ReschedulingAppointmentID: "appt-9",
			Intent:                    &Intent{Name: "Juan", Reason: "consulta", At: at},
		},
	}

	err := f.engine.HandleMessage(context.Background(), engineTenant(), buttonMessage(ButtonConfirmBooking))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(f.finalizer.rescheduled) != 1 || f.finalizer.rescheduled[0] != "appt-9" {
		t.Fatalf("reschedule calls = %v", f.finalizer.rescheduled)
	}
	if !f.finalizer.rescheduleAt.Equal(at) {
		t.Errorf("reschedule instant = %v, want %v", f.finalizer.rescheduleAt, at)
	}
	if f.store.conv.Context.ReschedulingAppointmentID != "" {
		t.Error("reschedule sub-mode must clear after confirm")
	}
	if len(f.finalizer.finalized) != 0 {
		t.Error("a reschedule must not also finalize a booking")
	}
}

func TestAuthFailedTellsPatientToContactAdmin(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"name": "Juan Pérez"}`,
		`{"has_appointment_info": true, "name": "Juan Pérez", "reason": "consulta", "datetime": "2026-03-02T10:00:00", "email": "", "raw_datetime": "lunes 10am"}`,
	}}
	f := newEngineFixture(t, llm, &fakeChecker{result: availability.Result{Status: availability.StatusAuthFailed}})

	err := f.engine.HandleMessage(context.Background(), engineTenant(), textMessage("cita lunes 10am, soy Juan Pérez, consulta"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := f.messenger.last(t).body; got != msgContactAdmin {
		t.Errorf("expected admin message, got %q", got)
	}
	if len(f.bookings.created) != 0 {
		t.Error("auth failures must not allocate bookings")
	}
	msgs := f.store.conv.Messages
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleAssistant || msgs[len(msgs)-1].Content != msgContactAdmin {
		t.Error("admin message must land in the conversation transcript")
	}
}
