package reminders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/crm"
)

type fakeAccounts struct {
	tenants []accounts.Account
	err     error
}

func (f *fakeAccounts) ListActive(context.Context) ([]accounts.Account, error) {
	return f.tenants, f.err
}

type fakeCalendar struct {
	events    map[string][]crm.CalendarEvent // tenant id → events
	eventsErr map[string]error
	contacts  map[string]*crm.Contact
}

func (f *fakeCalendar) ListAppointments(_ context.Context, tenantID, _, _ string, _, _ time.Time) ([]crm.CalendarEvent, error) {
	if err := f.eventsErr[tenantID]; err != nil {
		return nil, err
	}
	return f.events[tenantID], nil
}

func (f *fakeCalendar) GetContact(_ context.Context, _, contactID string) (*crm.Contact, error) {
	c, ok := f.contacts[contactID]
	if !ok {
		return nil, errors.New("contact not found")
	}
	return c, nil
}

type sentTemplate struct {
	phoneNumberID string
	to            string
	name          string
	params        chatapp.TemplateParams
}

type fakeSender struct {
	sent []sentTemplate
	err  error
}

func (f *fakeSender) SendTemplate(_ context.Context, phoneNumberID, to, name, _ string, params chatapp.TemplateParams) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentTemplate{phoneNumberID: phoneNumberID, to: to, name: name, params: params})
	return "wamid.out", nil
}

type fakeSent struct {
	already map[string]bool
	marked  []string
}

func (f *fakeSent) AlreadySent(_ context.Context, appointmentID string) (bool, error) {
	return f.already[appointmentID], nil
}

func (f *fakeSent) MarkSent(_ context.Context, appointmentID, _, _ string) error {
	f.marked = append(f.marked, appointmentID)
	return nil
}

type fakeContexts struct {
	opened map[string]ActiveContext
}

func (f *fakeContexts) Set(_ context.Context, phone string, ac ActiveContext) error {
	if f.opened == nil {
		f.opened = make(map[string]ActiveContext)
	}
	f.opened[phone] = ac
	return nil
}

type fakeRuns struct {
	saved *RunStats
}

func (f *fakeRuns) Save(_ context.Context, stats *RunStats) error {
	f.saved = stats
	return nil
}

func testDispatcher(accts *fakeAccounts, cal *fakeCalendar, sender *fakeSender, sent *fakeSent, ctxs *fakeContexts, runs *fakeRuns) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Accounts:     accts,
		Calendar:     cal,
		Sender:       sender,
		Sent:         sent,
		Contexts:     ctxs,
		Runs:         runs,
		TemplateName: "recordatorio_cita",
	})
}

func confirmedEvent(id, contactID, start string) crm.CalendarEvent {
	return crm.CalendarEvent{
		ID:                id,
		Title:             "Consulta general",
		ContactID:         contactID,
		AppointmentStatus: "confirmed",
		StartTime:         start,
	}
}

func TestRunSendsRemindersAndOpensContexts(t *testing.T) {
	accts := &fakeAccounts{tenants: []accounts.Account{
		{ID: "acct-1", Name: "Dra. Ruiz", PhoneNumberID: "pn-1", CalendarID: "cal-1", Timezone: "America/Mexico_City"},
	}}
	cal := &fakeCalendar{
		events: map[string][]crm.CalendarEvent{
			"acct-1": {
				confirmedEvent("appt-1", "ct-1", "2026-03-02T10:00:00-06:00"),
				{ID: "block-1", Title: "Bloqueo", StartTime: "2026-03-02T12:00:00-06:00"}, // no appointmentStatus
				{ID: "appt-x", ContactID: "ct-1", AppointmentStatus: "cancelled", StartTime: "2026-03-02T13:00:00-06:00"},
			},
		},
		contacts: map[string]*crm.Contact{
			"ct-1": {ID: "ct-1", Name: "Juan Pérez", Phone: "+525512345678"},
		},
	}
	sender := &fakeSender{}
	sent := &fakeSent{}
	ctxs := &fakeContexts{}
	runs := &fakeRuns{}

	stats, code := testDispatcher(accts, cal, sender, sent, ctxs, runs).Run(context.Background(), "America/Mexico_City", false)
	if code != ExitOK {
		t.Fatalf("exit code = %d, want 0 (errors: %v)", code, stats.Errors)
	}
	if stats.TotalAccounts != 1 || stats.TotalAppointments != 1 || stats.RemindersSent != 1 {
		t.Fatalf("stats = accounts %d appointments %d sent %d, want 1/1/1",
			stats.TotalAccounts, stats.TotalAppointments, stats.RemindersSent)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("got %d template sends, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.to != "5215512345678" {
		t.Errorf("reminder went to %q, want canonical 5215512345678", msg.to)
	}
	if msg.params.Body[0] != "Juan Pérez" {
		t.Errorf("first body param = %q, want patient name", msg.params.Body[0])
	}
	if msg.params.Body[1] != "10:00 am" {
		t.Errorf("time param = %q, want %q", msg.params.Body[1], "10:00 am")
	}
	if len(sent.marked) != 1 || sent.marked[0] != "appt-1" {
		t.Fatalf("marked = %v, want [appt-1]", sent.marked)
	}
	ac, ok := ctxs.opened["5215512345678"]
	if !ok {
		t.Fatal("reminder context was not opened")
	}
	if ac.AppointmentID != "appt-1" || ac.TenantID != "acct-1" {
		t.Fatalf("unexpected context: %+v", ac)
	}
	if runs.saved == nil {
		t.Fatal("run stats were not persisted")
	}
}

func TestRunSkipsAlreadySent(t *testing.T) {
	accts := &fakeAccounts{tenants: []accounts.Account{
		{ID: "acct-1", PhoneNumberID: "pn-1", Timezone: "America/Mexico_City"},
	}}
	cal := &fakeCalendar{
		events: map[string][]crm.CalendarEvent{
			"acct-1": {confirmedEvent("appt-1", "ct-1", "2026-03-02T10:00:00-06:00")},
		},
		contacts: map[string]*crm.Contact{"ct-1": {ID: "ct-1", Phone: "5512345678"}},
	}
	sender := &fakeSender{}
	sent := &fakeSent{already: map[string]bool{"appt-1": true}}

	_, code := testDispatcher(accts, cal, sender, sent, &fakeContexts{}, &fakeRuns{}).Run(context.Background(), "America/Mexico_City", false)
	if code != ExitOK {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("already-reminded appointment must be skipped, got %d sends", len(sender.sent))
	}
}

func TestRunTenantFailureIsolated(t *testing.T) {
	accts := &fakeAccounts{tenants: []accounts.Account{
		{ID: "acct-bad", PhoneNumberID: "pn-0", Timezone: "America/Mexico_City"},
		{ID: "acct-good", PhoneNumberID: "pn-1", Timezone: "America/Mexico_City"},
	}}
	cal := &fakeCalendar{
		eventsErr: map[string]error{"acct-bad": errors.New("crm down")},
		events: map[string][]crm.CalendarEvent{
			"acct-good": {confirmedEvent("appt-1", "ct-1", "2026-03-02T10:00:00-06:00")},
		},
		contacts: map[string]*crm.Contact{"ct-1": {ID: "ct-1", Phone: "5512345678"}},
	}
	sender := &fakeSender{}
	sent := &fakeSent{}

	stats, code := testDispatcher(accts, cal, sender, sent, &fakeContexts{}, &fakeRuns{}).Run(context.Background(), "America/Mexico_City", false)
	if code != ExitErrors {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], "acct-bad") {
		t.Fatalf("errors = %v, want one acct-bad entry", stats.Errors)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("healthy tenant must still be processed, got %d sends", len(sender.sent))
	}
}

func TestRunDryRunSendsNothing(t *testing.T) {
	accts := &fakeAccounts{tenants: []accounts.Account{
		{ID: "acct-1", PhoneNumberID: "pn-1", Timezone: "America/Mexico_City"},
	}}
	cal := &fakeCalendar{
		events: map[string][]crm.CalendarEvent{
			"acct-1": {confirmedEvent("appt-1", "ct-1", "2026-03-02T10:00:00-06:00")},
		},
		contacts: map[string]*crm.Contact{"ct-1": {ID: "ct-1", Phone: "5512345678"}},
	}
	sender := &fakeSender{}
	sent := &fakeSent{}
	ctxs := &fakeContexts{}

	_, code := testDispatcher(accts, cal, sender, sent, ctxs, &fakeRuns{}).Run(context.Background(), "America/Mexico_City", true)
	if code != ExitOK {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if len(sender.sent) != 0 || len(sent.marked) != 0 || len(ctxs.opened) != 0 {
		t.Fatal("dry run must not send, mark or open anything")
	}
}

func TestRunFatalSetup(t *testing.T) {
	accts := &fakeAccounts{err: errors.New("db down")}
	d := testDispatcher(accts, &fakeCalendar{}, &fakeSender{}, &fakeSent{}, &fakeContexts{}, &fakeRuns{})

	if _, code := d.Run(context.Background(), "America/Mexico_City", false); code != ExitFatal {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if _, code := d.Run(context.Background(), "Not/AZone", false); code != ExitFatal {
		t.Fatalf("bad timezone exit code = %d, want 2", code)
	}
}
