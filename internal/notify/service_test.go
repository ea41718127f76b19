package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func testTenant() *accounts.Account {
	return &accounts.Account{
		ID:    "acct-1",
		Name:  "Dra. Ruiz",
		Email: "ruiz@example.com",
	}
}

func testBooking() *bookings.Booking {
	return &bookings.Booking{
		ID:           "bk-1",
		PatientName:  "Ana López",
		PatientPhone: "5213312345678",
		DateDisplay:  "lunes 2 de marzo",
		TimeDisplay:  "10:00 am",
		Reason:       "consulta general",
		Source:       bookings.SourceChat,
	}
}

func TestNotifyBookingConfirmed(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, nil)

	if err := svc.NotifyBookingConfirmed(context.Background(), testTenant(), testBooking()); err != nil {
		t.Fatalf("NotifyBookingConfirmed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("got %d emails, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ruiz@example.com" || msg.ToName != "Dra. Ruiz" {
		t.Fatalf("recipient = %q/%q", msg.To, msg.ToName)
	}
	if !strings.Contains(msg.Subject, "Ana López") {
		t.Errorf("subject %q should name the patient", msg.Subject)
	}
	for _, want := range []string{"Ana López", "+5213312345678", "lunes 2 de marzo", "10:00 am", "consulta general", "WhatsApp"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if msg.HTML == "" {
		t.Error("HTML body should be set")
	}
}

func TestNotifyBookingConfirmedDirectorySource(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, nil)

	b := testBooking()
	b.Source = bookings.SourceDirectory
	if err := svc.NotifyBookingConfirmed(context.Background(), testTenant(), b); err != nil {
		t.Fatalf("NotifyBookingConfirmed: %v", err)
	}
	if !strings.Contains(sender.sent[0].Body, "directorio web") {
		t.Error("directory bookings should name their channel")
	}
}

func TestNotifyPaymentReceived(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, nil)

	if err := svc.NotifyPaymentReceived(context.Background(), testTenant(), testBooking(), 50000, "mxn"); err != nil {
		t.Fatalf("NotifyPaymentReceived: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("got %d emails, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Body, "$500.00 mxn") {
		t.Errorf("body missing formatted amount:\n%s", sender.sent[0].Body)
	}
}

func TestNotifySkipsWithoutSenderOrEmail(t *testing.T) {
	// Nil sender: no-op, no error.
	svc := NewService(nil, nil)
	if err := svc.NotifyBookingConfirmed(context.Background(), testTenant(), testBooking()); err != nil {
		t.Fatalf("nil sender must no-op, got %v", err)
	}

	// Tenant without an email: no-op, no error.
	sender := &recordingSender{}
	svc = NewService(sender, nil)
	tenant := testTenant()
	tenant.Email = ""
	if err := svc.NotifyPaymentReceived(context.Background(), tenant, testBooking(), 50000, "mxn"); err != nil {
		t.Fatalf("missing tenant email must no-op, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("nothing should be sent without a recipient")
	}
}

func TestNotifySurfacesSendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(sender, nil)

	if err := svc.NotifyBookingConfirmed(context.Background(), testTenant(), testBooking()); err == nil {
		t.Fatal("send failure must surface to the caller")
	}
}
