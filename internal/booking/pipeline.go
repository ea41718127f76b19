// Package booking turns a confirmed (or paid) booking into a real CRM
// appointment: slot revalidation, contact reuse, appointment creation and the
// patient-facing confirmation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	observemetrics "github.com/medagenda/citas-ai-platform/internal/observability/metrics"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var pipelineTracer = otel.Tracer("citas.internal.booking")

const msgSlotTaken = "Lo siento mucho, ese horario se acaba de ocupar. 😔 ¿Te gustaría elegir otra fecha u hora?"

// bookingStore is the slice of the booking store the pipeline uses.
type bookingStore interface {
	Create(ctx context.Context, b *bookings.Booking) error
	Get(ctx context.Context, id string) (*bookings.Booking, error)
	SetStatus(ctx context.Context, id string, status bookings.Status) error
	SetPaymentStatus(ctx context.Context, id string, status bookings.PaymentStatus) error
	LinkAppointment(ctx context.Context, id, appointmentID string) error
	LinkPayment(ctx context.Context, id, paymentID string) error
}

// paymentStore stamps the appointment id on the payment row after the join.
type paymentStore interface {
	GetByBooking(ctx context.Context, bookingID string) (*payments.Payment, error)
	LinkAppointment(ctx context.Context, id, appointmentID string) error
}

// conversationStore closes the chat session once its booking confirms.
type conversationStore interface {
	GetOrCreate(ctx context.Context, tenantID, phone string) (*conversation.Conversation, error)
	SetStatus(ctx context.Context, conversationID string, status conversation.Status) error
}

// calendar is the CRM surface the pipeline needs.
type calendar interface {
	FindOrCreateContact(ctx context.Context, tenantID, locationID, name, rawPhone, email string) (*crm.Contact, error)
	CreateAppointment(ctx context.Context, tenantID string, p crm.AppointmentParams) (string, error)
	UpdateAppointment(ctx context.Context, tenantID, appointmentID string, start, end time.Time) error
}

// slotGuard re-checks the slot at finalization to close the payment-window
// race.
type slotGuard interface {
	SlotStillFree(ctx context.Context, tenant *accounts.Account, at time.Time) (bool, error)
}

type tenantResolver interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

// messenger sends the confirmation, template first with plain-text fallback.
type messenger interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
	SendTemplate(ctx context.Context, phoneNumberID, to, name, language string, params chatapp.TemplateParams) (string, error)
}

type checkoutCreator interface {
	CreateBookingCheckout(ctx context.Context, p payments.CheckoutParams) (*payments.CheckoutSession, error)
}

// notifier emails the operator about booking activity. Failures never fail
// the booking.
type notifier interface {
	NotifyBookingConfirmed(ctx context.Context, tenant *accounts.Account, b *bookings.Booking) error
	NotifyPaymentReceived(ctx context.Context, tenant *accounts.Account, b *bookings.Booking, amountCents int64, currency string) error
}

// Pipeline finalizes bookings from every entry point: direct ✓ confirmation,
// paid checkout webhook, and public directory bookings.
type Pipeline struct {
	bookings      bookingStore
	payments      paymentStore
	conversations conversationStore
	calendar      calendar
	slots         slotGuard
	tenants       tenantResolver
	messenger     messenger
	checkout      checkoutCreator
	notifier      notifier
	metrics       *observemetrics.BookingMetrics

	templateName     string
	templateLanguage string
	logger           *logging.Logger
}

// Config wires the pipeline's collaborators.
type Config struct {
	Bookings      bookingStore
	Payments      paymentStore
	Conversations conversationStore
	Calendar      calendar
	Slots         slotGuard
	Tenants       tenantResolver
	Messenger     messenger
	Checkout      checkoutCreator
	Notifier      notifier
	Metrics       *observemetrics.BookingMetrics

	TemplateName     string
	TemplateLanguage string
	Logger           *logging.Logger
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.Bookings == nil {
		panic("booking: booking store required")
	}
	if cfg.Calendar == nil {
		panic("booking: crm calendar required")
	}
	if cfg.Tenants == nil {
		panic("booking: tenant resolver required")
	}
	if cfg.Messenger == nil {
		panic("booking: messenger required")
	}
	if cfg.TemplateLanguage == "" {
		cfg.TemplateLanguage = "es_MX"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Pipeline{
		bookings:         cfg.Bookings,
		payments:         cfg.Payments,
		conversations:    cfg.Conversations,
		calendar:         cfg.Calendar,
		slots:            cfg.Slots,
		tenants:          cfg.Tenants,
		messenger:        cfg.Messenger,
		checkout:         cfg.Checkout,
		notifier:         cfg.Notifier,
		metrics:          cfg.Metrics,
		templateName:     cfg.TemplateName,
		templateLanguage: cfg.TemplateLanguage,
		logger:           cfg.Logger,
	}
}

// FinalizePaidBooking is the Stripe webhook entry point. metadata.booking_id
// is the canonical key; the session id only stamps the payment trail.
func (p *Pipeline) FinalizePaidBooking(ctx context.Context, bookingID, sessionID string) error {
	if err := p.bookings.SetPaymentStatus(ctx, bookingID, bookings.PaymentCompleted); err != nil {
		if !errors.Is(err, bookings.ErrNotFound) {
			return err
		}
		p.logger.Warn("paid checkout references unknown booking",
			"booking_id", bookingID, "session_id", sessionID)
		return nil
	}
	return p.Finalize(ctx, bookingID)
}

// Finalize creates the CRM appointment for a confirmed booking. Calling it
// twice returns without creating a duplicate.
func (p *Pipeline) Finalize(ctx context.Context, bookingID string) error {
	ctx, span := pipelineTracer.Start(ctx, "booking.finalize")
	defer span.End()
	span.SetAttributes(attribute.String("citas.booking_id", bookingID))

	b, err := p.bookings.Get(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("booking: load booking: %w", err)
	}
	if b.AppointmentID != "" {
		// Webhook vs. success-URL race: the appointment already exists.
		return nil
	}
	if b.Status == bookings.StatusCancelled {
		return nil
	}

	tenant, err := p.tenants.Get(ctx, b.TenantID)
	if err != nil {
		return fmt.Errorf("booking: load tenant: %w", err)
	}

	if p.slots != nil {
		free, err := p.slots.SlotStillFree(ctx, tenant, b.AppointmentAt)
		if err != nil {
			return fmt.Errorf("booking: revalidate slot: %w", err)
		}
		if !free {
			return p.markSlotUnavailable(ctx, tenant, b)
		}
	}

	contactID, conv, err := p.resolveContact(ctx, tenant, b)
	if err != nil {
		return err
	}

	start := b.AppointmentAt
	appointmentID, err := p.calendar.CreateAppointment(ctx, tenant.ID, crm.AppointmentParams{
		CalendarID:     calendarFor(tenant, b),
		LocationID:     tenant.LocationID,
		ContactID:      contactID,
		AssignedUserID: tenant.AssignedUserID,
		Title:          appointmentTitle(b),
		StartTime:      start,
		EndTime:        start.Add(crm.AppointmentDuration),
	})
	if err != nil {
		return fmt.Errorf("booking: create appointment: %w", err)
	}

	if err := p.bookings.LinkAppointment(ctx, b.ID, appointmentID); err != nil {
		return fmt.Errorf("booking: link appointment: %w", err)
	}
	b.AppointmentID = appointmentID

	var paid *payments.Payment
	if p.payments != nil {
		payment, err := p.payments.GetByBooking(ctx, b.ID)
		switch {
		case err == nil:
			paid = payment
			if err := p.payments.LinkAppointment(ctx, payment.ID, appointmentID); err != nil {
				p.logger.Warn("payment appointment stamp failed",
					"payment_id", payment.ID, "booking_id", b.ID, "error", err)
			}
		case !errors.Is(err, payments.ErrNotFound):
			p.logger.Warn("payment lookup failed", "booking_id", b.ID, "error", err)
		}
	}

	if conv != nil {
		if err := p.conversations.SetStatus(ctx, conv.ID, conversation.StatusCompleted); err != nil {
			p.logger.Warn("conversation close failed",
				"conversation_id", conv.ID, "booking_id", b.ID, "error", err)
		}
	}

	p.sendConfirmation(ctx, tenant, b)

	wasPaid := paid != nil && paid.Status == payments.PaymentCompleted
	p.metrics.ObserveFinalized(string(b.Source), wasPaid)
	if p.notifier != nil {
		if wasPaid {
			_ = p.notifier.NotifyPaymentReceived(ctx, tenant, b, paid.AmountCents, paid.Currency)
		} else {
			_ = p.notifier.NotifyBookingConfirmed(ctx, tenant, b)
		}
	}
	return nil
}

// Reschedule moves an existing CRM appointment to a new instant. Used by the
// reminder reply flow; there is no booking row to touch.
func (p *Pipeline) Reschedule(ctx context.Context, tenant *accounts.Account, conversationID, appointmentID string, at time.Time) error {
	ctx, span := pipelineTracer.Start(ctx, "booking.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("citas.tenant_id", tenant.ID),
		attribute.String("citas.appointment_id", appointmentID),
	)

	if p.slots != nil {
		free, err := p.slots.SlotStillFree(ctx, tenant, at)
		if err != nil {
			return fmt.Errorf("booking: revalidate slot: %w", err)
		}
		if !free {
			phone := phoneFromConversationID(conversationID, tenant.ID)
			if phone != "" {
				if _, err := p.messenger.SendText(ctx, tenant.PhoneNumberID, phone, msgSlotTaken); err != nil {
					p.logger.Warn("slot-taken notice failed", "error", err)
				}
			}
			return nil
		}
	}

	if err := p.calendar.UpdateAppointment(ctx, tenant.ID, appointmentID, at, at.Add(crm.AppointmentDuration)); err != nil {
		return fmt.Errorf("booking: move appointment: %w", err)
	}

	phone := phoneFromConversationID(conversationID, tenant.ID)
	if phone != "" {
		local := at.In(tenant.Location())
		body := fmt.Sprintf("¡Listo! Tu cita quedó reprogramada para el %s. Te esperamos. ✅", availability.FormatSpanish(local))
		if _, err := p.messenger.SendText(ctx, tenant.PhoneNumberID, phone, body); err != nil {
			p.logger.Warn("reschedule confirmation failed", "error", err)
		}
	}
	return nil
}

func (p *Pipeline) markSlotUnavailable(ctx context.Context, tenant *accounts.Account, b *bookings.Booking) error {
	if err := p.bookings.SetStatus(ctx, b.ID, bookings.StatusSlotUnavailable); err != nil {
		return fmt.Errorf("booking: mark slot unavailable: %w", err)
	}
	p.metrics.ObserveLostSlot(string(b.Source))
	if _, err := p.messenger.SendText(ctx, tenant.PhoneNumberID, b.PatientPhone, msgSlotTaken); err != nil {
		p.logger.Warn("slot-taken notice failed", "booking_id", b.ID, "error", err)
	}
	return nil
}

// resolveContact reuses the contact already attached to the chat session and
// falls back to find-or-create for directory bookings.
func (p *Pipeline) resolveContact(ctx context.Context, tenant *accounts.Account, b *bookings.Booking) (string, *conversation.Conversation, error) {
	var conv *conversation.Conversation
	if b.Source == bookings.SourceChat && p.conversations != nil {
		loaded, err := p.conversations.GetOrCreate(ctx, tenant.ID, b.PatientPhone)
		if err != nil {
			p.logger.Warn("conversation lookup failed", "booking_id", b.ID, "error", err)
		} else {
			conv = loaded
			if conv.Context.ContactID != "" {
				return conv.Context.ContactID, conv, nil
			}
		}
	}

	contact, err := p.calendar.FindOrCreateContact(ctx, tenant.ID, tenant.LocationID, b.PatientName, b.PatientPhone, b.PatientEmail)
	if err != nil {
		return "", nil, fmt.Errorf("booking: resolve contact: %w", err)
	}
	return contact.ID, conv, nil
}

func (p *Pipeline) sendConfirmation(ctx context.Context, tenant *accounts.Account, b *bookings.Booking) {
	local := b.AppointmentAt.In(tenant.Location())
	date := b.DateDisplay
	if date == "" {
		date = availability.FormatSpanishDate(local)
	}
	clock := b.TimeDisplay
	if clock == "" {
		clock = availability.FormatSpanishTime(local)
	}
	doctor := b.DoctorName
	if doctor == "" {
		doctor = tenant.Name
	}

	if p.templateName != "" {
		params := chatapp.TemplateParams{
			Body: []string{b.PatientName, doctor, date, clock, b.Location},
		}
		if _, err := p.messenger.SendTemplate(ctx, tenant.PhoneNumberID, b.PatientPhone, p.templateName, p.templateLanguage, params); err == nil {
			return
		} else {
			p.logger.Warn("confirmation template failed, falling back to text",
				"booking_id", b.ID, "template", p.templateName, "error", err)
		}
	}

	body := fmt.Sprintf("¡Tu cita está confirmada! ✅\n\n👤 %s\n🩺 %s\n📅 %s\n🕐 %s", b.PatientName, doctor, date, clock)
	if b.Location != "" {
		body += fmt.Sprintf("\n📍 %s", b.Location)
	}
	if _, err := p.messenger.SendText(ctx, tenant.PhoneNumberID, b.PatientPhone, body); err != nil {
		// Confirmation delivery never fails the booking.
		p.logger.Warn("confirmation text failed", "booking_id", b.ID, "error", err)
	}
}

func calendarFor(tenant *accounts.Account, b *bookings.Booking) string {
	if b.CalendarID != "" {
		return b.CalendarID
	}
	return tenant.CalendarID
}

func appointmentTitle(b *bookings.Booking) string {
	if b.Reason == "" {
		return fmt.Sprintf("Cita - %s", b.PatientName)
	}
	return fmt.Sprintf("Cita: %s - %s", b.Reason, b.PatientName)
}

// phoneFromConversationID strips the "{tenant}_" prefix and any "_sN" session
// suffix back off a session id.
func phoneFromConversationID(conversationID, tenantID string) string {
	prefix := tenantID + "_"
	if len(conversationID) <= len(prefix) || conversationID[:len(prefix)] != prefix {
		return ""
	}
	phone := conversationID[len(prefix):]
	if idx := lastSessionSuffix(phone); idx >= 0 {
		phone = phone[:idx]
	}
	return phone
}

func lastSessionSuffix(phone string) int {
	for i := len(phone) - 1; i > 0; i-- {
		if phone[i] == '_' {
			if i+1 < len(phone) && phone[i+1] == 's' {
				return i
			}
			return -1
		}
	}
	return -1
}
