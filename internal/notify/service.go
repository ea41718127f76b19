package notify

import (
	"context"
	"fmt"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/phone"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Service emails tenant operators about booking activity. Every method is
// fire-and-forget from the caller's point of view: a notification failure is
// logged and returned, but callers never fail the booking over it.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service. A nil sender disables delivery;
// every notify call becomes a logged no-op.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// NotifyBookingConfirmed tells the operator a new appointment landed on their
// calendar.
func (s *Service) NotifyBookingConfirmed(ctx context.Context, tenant *accounts.Account, b *bookings.Booking) error {
	if s.email == nil || tenant == nil || tenant.Email == "" {
		s.logger.Debug("booking notification skipped", "reason", "no sender or tenant email")
		return nil
	}

	source := "WhatsApp"
	if b.Source == bookings.SourceDirectory {
		source = "directorio web"
	}

	subject := fmt.Sprintf("📅 Nueva cita — %s", b.PatientName)
	body := fmt.Sprintf(`Tienes una nueva cita confirmada.

Paciente: %s
Teléfono: %s
Fecha: %s a las %s
Motivo: %s
Canal: %s

— Citas AI`, b.PatientName, phone.Display(b.PatientPhone), b.DateDisplay, b.TimeDisplay, orDash(b.Reason), source)

	msg := EmailMessage{
		To:      tenant.Email,
		ToName:  tenant.Name,
		Subject: subject,
		Body:    body,
		HTML:    bookingHTML("📅 Nueva cita confirmada", b, ""),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send booking notification",
			"tenant_id", tenant.ID, "booking_id", b.ID, "error", err)
		return err
	}
	s.logger.Info("booking notification sent", "tenant_id", tenant.ID, "booking_id", b.ID)
	return nil
}

// NotifyPaymentReceived tells the operator a patient paid for their
// appointment.
func (s *Service) NotifyPaymentReceived(ctx context.Context, tenant *accounts.Account, b *bookings.Booking, amountCents int64, currency string) error {
	if s.email == nil || tenant == nil || tenant.Email == "" {
		s.logger.Debug("payment notification skipped", "reason", "no sender or tenant email")
		return nil
	}

	amount := formatAmount(amountCents, currency)
	subject := fmt.Sprintf("💰 Pago recibido — %s", b.PatientName)
	body := fmt.Sprintf(`%s pagó %s por su cita.

Paciente: %s
Teléfono: %s
Fecha: %s a las %s
Monto: %s

La cita queda confirmada en tu calendario.

— Citas AI`, b.PatientName, amount, b.PatientName, phone.Display(b.PatientPhone), b.DateDisplay, b.TimeDisplay, amount)

	msg := EmailMessage{
		To:      tenant.Email,
		ToName:  tenant.Name,
		Subject: subject,
		Body:    body,
		HTML:    bookingHTML("💰 Pago recibido", b, amount),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send payment notification",
			"tenant_id", tenant.ID, "booking_id", b.ID, "error", err)
		return err
	}
	s.logger.Info("payment notification sent", "tenant_id", tenant.ID, "booking_id", b.ID)
	return nil
}

func bookingHTML(title string, b *bookings.Booking, amount string) string {
	amountRow := ""
	if amount != "" {
		amountRow = tableRow("Monto", amount)
	}
	return fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #10b981;">%s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
%s%s%s%s%s</table>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— Citas AI</p>
</div>`,
		title,
		tableRow("Paciente", b.PatientName),
		tableRow("Teléfono", phone.Display(b.PatientPhone)),
		tableRow("Fecha", fmt.Sprintf("%s a las %s", b.DateDisplay, b.TimeDisplay)),
		tableRow("Motivo", orDash(b.Reason)),
		amountRow)
}

func tableRow(label, value string) string {
	return fmt.Sprintf(`  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
`, label, value)
}

func formatAmount(cents int64, currency string) string {
	if currency == "" {
		currency = "mxn"
	}
	return fmt.Sprintf("$%.2f %s", float64(cents)/100, currency)
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
