package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var engineTracer = otel.Tracer("citas.internal.conversation.engine")

// cancelKeywords end a pending confirmation when typed instead of tapped.
var cancelKeywords = map[string]struct{}{
	"no":        {},
	"cancelar":  {},
	"cancel":    {},
	"cancela":   {},
	"no quiero": {},
	"olvidalo":  {},
	"olvídalo":  {},
	"dejalo":    {},
	"déjalo":    {},
}

// Messenger is the outbound WhatsApp surface the engine needs.
type Messenger interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
	SendButtons(ctx context.Context, phoneNumberID, to, body string, buttons []chatapp.Button, footer string) (string, error)
}

// ContactDirectory creates and updates CRM contacts.
type ContactDirectory interface {
	FindOrCreateContact(ctx context.Context, tenantID, locationID, name, rawPhone, email string) (*crm.Contact, error)
	UpdateContact(ctx context.Context, tenantID, contactID, name, email, notes string) error
}

// SlotChecker resolves a requested instant against the tenant's calendar.
type SlotChecker interface {
	Check(ctx context.Context, tenant *accounts.Account, requested time.Time) (availability.Result, error)
}

// Finalizer creates the CRM appointment once the patient confirms (or pays),
// and moves an existing appointment on a reminder reschedule.
type Finalizer interface {
	Finalize(ctx context.Context, bookingID string) error
	Reschedule(ctx context.Context, tenant *accounts.Account, conversationID, appointmentID string, at time.Time) error
}

// CheckoutCreator opens hosted checkout sessions for payment-gated bookings.
type CheckoutCreator interface {
	CreateBookingCheckout(ctx context.Context, p payments.CheckoutParams) (*payments.CheckoutSession, error)
}

// sessionStore is the slice of Store the engine touches.
type sessionStore interface {
	GetOrCreate(ctx context.Context, tenantID, phone string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	UpdateContext(ctx context.Context, conversationID string, c Context) error
}

// BookingWriter is the slice of the booking store the engine drives.
type BookingWriter interface {
	Create(ctx context.Context, b *bookings.Booking) error
	UpdateAppointmentTime(ctx context.Context, id string, at time.Time, dateDisplay, timeDisplay string) error
	LinkPayment(ctx context.Context, id, paymentID string) error
	Cancel(ctx context.Context, id string) error
}

// Engine drives one conversation turn: extraction, availability, the
// confirmation sub-state and the payment hand-off.
type Engine struct {
	store     sessionStore
	assistant *Assistant
	messenger Messenger
	contacts  ContactDirectory
	slots     SlotChecker
	bookings  BookingWriter
	finalizer Finalizer
	checkout  CheckoutCreator
	logger    *logging.Logger
	now       func() time.Time
}

func NewEngine(store sessionStore, assistant *Assistant, messenger Messenger, contacts ContactDirectory,
	slots SlotChecker, bookingStore BookingWriter, finalizer Finalizer, checkout CheckoutCreator,
	logger *logging.Logger) *Engine {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if assistant == nil {
		panic("conversation: assistant cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:     store,
		assistant: assistant,
		messenger: messenger,
		contacts:  contacts,
		slots:     slots,
		bookings:  bookingStore,
		finalizer: finalizer,
		checkout:  checkout,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleMessage processes one inbound patient message end to end.
func (e *Engine) HandleMessage(ctx context.Context, tenant *accounts.Account, msg chatapp.InboundMessage) error {
	ctx, span := engineTracer.Start(ctx, "conversation.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("citas.tenant_id", tenant.ID),
		attribute.String("citas.message_type", msg.Type),
	)

	if msg.Type == chatapp.TypeImage {
		_, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, msg.From, msgImageUnsupported)
		return err
	}

	conv, err := e.store.GetOrCreate(ctx, tenant.ID, msg.From)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("citas.conversation_id", conv.ID))

	if err := e.recordUser(ctx, conv, msg); err != nil {
		return err
	}

	switch {
	case msg.ButtonID == ButtonConfirmBooking:
		return e.handleConfirm(ctx, tenant, conv)
	case msg.ButtonID == ButtonCancelBooking:
		return e.handleCancelDraft(ctx, tenant, conv)
	case conv.Context.AwaitingConfirmation:
		return e.handleAwaitingReply(ctx, tenant, conv, msg.Text)
	default:
		return e.extractAndRespond(ctx, tenant, conv)
	}
}

func (e *Engine) recordUser(ctx context.Context, conv *Conversation, msg chatapp.InboundMessage) error {
	entry := Message{Role: RoleUser, Content: msg.Text, CreatedAt: e.now().UTC()}
	if msg.MessageID != "" {
		entry.Metadata = map[string]string{"message_id": msg.MessageID}
	}
	if err := e.store.AppendMessage(ctx, conv.ID, entry); err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, entry)
	return nil
}

// handleAwaitingReply covers typed replies while a ✓/✗ or numbered list is
// pending: an index pick, a cancel keyword, or a brand-new request.
func (e *Engine) handleAwaitingReply(ctx context.Context, tenant *accounts.Account, conv *Conversation, text string) error {
	if isCancelKeyword(text) {
		return e.handleCancelDraft(ctx, tenant, conv)
	}

	if !conv.Context.ExactMatch && len(conv.Context.Alternatives) > 0 {
		if idx, ok := parseAlternativeIndex(text, len(conv.Context.Alternatives)); ok {
			return e.selectAlternative(ctx, tenant, conv, idx)
		}
		if looksLikeIndex(text) {
			_, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, msgInvalidOption)
			return err
		}
	}

	// Typed something else entirely, e.g. a different date. Drop the pending
	// confirmation and extract again.
	conv.Context.AwaitingConfirmation = false
	if err := e.store.UpdateContext(ctx, conv.ID, conv.Context); err != nil {
		return err
	}
	return e.extractAndRespond(ctx, tenant, conv)
}

func (e *Engine) selectAlternative(ctx context.Context, tenant *accounts.Account, conv *Conversation, idx int) error {
	slot := conv.Context.Alternatives[idx-1]

	if conv.Context.Intent == nil {
		conv.Context.Intent = &Intent{}
	}
	conv.Context.Intent.At = slot.At
	conv.Context.Intent.Raw = slot.Display

	if conv.Context.BookingID != "" && e.bookings != nil {
		if err := e.bookings.UpdateAppointmentTime(ctx, conv.Context.BookingID, slot.At, slot.Date, slot.Time); err != nil {
			return err
		}
	}

	now := e.now().UTC()
	conv.Context.ExactMatch = true
	conv.Context.Alternatives = []SlotOption{slot}
	conv.Context.AwaitingConfirmation = true
	conv.Context.ConfirmationSentAt = &now
	if err := e.store.UpdateContext(ctx, conv.ID, conv.Context); err != nil {
		return err
	}

	body := confirmationBody(conv.Context.UserName, slot.Display)
	if _, err := e.messenger.SendButtons(ctx, tenant.PhoneNumberID, conv.Phone, body, confirmButtons, ""); err != nil {
		return err
	}
	return e.recordAssistant(ctx, conv, body)
}

func (e *Engine) extractAndRespond(ctx context.Context, tenant *accounts.Account, conv *Conversation) error {
	history := chatHistory(conv)

	if err := e.ensureContact(ctx, tenant, conv, history); err != nil {
		// Contact creation is best-effort here; the pipeline retries it at
		// finalization.
		e.logger.Warn("contact creation during extraction failed",
			"tenant_id", tenant.ID, "conversation_id", conv.ID, "error", err)
	}

	extraction, err := e.assistant.ExtractIntent(ctx, tenant, history)
	if err != nil {
		return err
	}
	if err := e.applyExtraction(ctx, tenant, conv, extraction); err != nil {
		return err
	}

	if conv.Context.Intent != nil && conv.Context.Intent.Complete() {
		return e.checkAvailability(ctx, tenant, conv)
	}

	reply, err := e.assistant.Reply(ctx, tenant, history)
	if err != nil {
		return err
	}
	if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, reply); err != nil {
		return err
	}
	return e.recordAssistant(ctx, conv, reply)
}

// ensureContact runs the name pass and creates the CRM contact as soon as a
// name is known, before the intent is complete.
func (e *Engine) ensureContact(ctx context.Context, tenant *accounts.Account, conv *Conversation, history []ChatMessage) error {
	if conv.Context.ContactID != "" || e.contacts == nil {
		return nil
	}

	name, err := e.assistant.ExtractName(ctx, history)
	if err != nil {
		return err
	}
	if name == "" {
		name = conv.Context.UserName
	}
	if name == "" {
		return nil
	}

	contact, err := e.contacts.FindOrCreateContact(ctx, tenant.ID, tenant.LocationID, name, conv.Phone, conv.Context.Email)
	if err != nil {
		return err
	}
	conv.Context.ContactID = contact.ID
	conv.Context.UserName = name
	return e.store.UpdateContext(ctx, conv.ID, conv.Context)
}

func (e *Engine) applyExtraction(ctx context.Context, tenant *accounts.Account, conv *Conversation, ext Extraction) error {
	c := &conv.Context
	if c.Intent == nil {
		c.Intent = &Intent{}
	}

	contactDirty := false
	if name := strings.TrimSpace(ext.Name); name != "" {
		c.Intent.Name = name
		if c.UserName == "" {
			c.UserName = name
		}
	}
	if c.Intent.Name == "" && c.UserName != "" {
		c.Intent.Name = c.UserName
	}
	if reason := strings.TrimSpace(ext.Reason); reason != "" && reason != c.Intent.Reason {
		c.Intent.Reason = reason
		contactDirty = true
	}
	if email := strings.TrimSpace(ext.Email); email != "" && email != c.Email {
		c.Email = email
		c.Intent.Email = email
		contactDirty = true
	}

	if ext.HasAppointmentInfo && ext.Datetime != "" {
		if at, ok := e.assistant.ParseIntentTime(ext.Datetime, tenant.Location()); ok {
			c.Intent.At = at
			c.Intent.Raw = ext.RawDatetime
		}
	}

	if contactDirty && c.ContactID != "" && e.contacts != nil {
		if err := e.contacts.UpdateContact(ctx, tenant.ID, c.ContactID, c.Intent.Name, c.Email, c.Intent.Reason); err != nil {
			e.logger.Warn("contact update failed",
				"tenant_id", tenant.ID, "contact_id", c.ContactID, "error", err)
		}
	}

	return e.store.UpdateContext(ctx, conv.ID, conv.Context)
}

func (e *Engine) checkAvailability(ctx context.Context, tenant *accounts.Account, conv *Conversation) error {
	intent := conv.Context.Intent
	result, err := e.slots.Check(ctx, tenant, intent.At)
	if err != nil {
		return err
	}

	switch result.Status {
	case availability.StatusAuthFailed:
		if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, msgContactAdmin); err != nil {
			return err
		}
		return e.recordAssistant(ctx, conv, msgContactAdmin)

	case availability.StatusNone:
		// Keep name and reason; only the datetime needs another try.
		intent.At = time.Time{}
		intent.Raw = ""
		if err := e.store.UpdateContext(ctx, conv.ID, conv.Context); err != nil {
			return err
		}
		if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, msgNoSlots); err != nil {
			return err
		}
		return e.recordAssistant(ctx, conv, msgNoSlots)
	}

	options := make([]SlotOption, 0, len(result.Slots))
	for _, slot := range result.Slots {
		options = append(options, SlotOption{At: slot.At, Date: slot.Date, Time: slot.Time, Display: slot.Display})
	}

	booking := &bookings.Booking{
		DoctorID:        tenant.ID,
		TenantID:        tenant.ID,
		PatientName:     intent.Name,
		PatientPhone:    conv.Phone,
		PatientEmail:    conv.Context.Email,
		Reason:          intent.Reason,
		AppointmentAt:   intent.At,
		DateDisplay:     availability.FormatSpanishDate(intent.At.In(tenant.Location())),
		TimeDisplay:     availability.FormatSpanishTime(intent.At.In(tenant.Location())),
		Source:          bookings.SourceChat,
		Status:          bookings.StatusPending,
		PaymentRequired: tenant.Payments.Enabled,
		CalendarID:      tenant.CalendarID,
		DoctorName:      tenant.Name,
		PriceCents:      tenant.Payments.PriceCents,
	}
	if e.bookings != nil {
		if err := e.bookings.Create(ctx, booking); err != nil {
			return err
		}
	}

	now := e.now().UTC()
	conv.Context.BookingID = booking.ID
	conv.Context.ExactMatch = result.ExactMatch()
	conv.Context.Alternatives = options
	conv.Context.AwaitingConfirmation = true
	conv.Context.ConfirmationSentAt = &now
	if err := e.store.UpdateContext(ctx, conv.ID, conv.Context); err != nil {
		return err
	}

	if result.ExactMatch() {
		body := confirmationBody(conv.Context.UserName, options[0].Display)
		if _, err := e.messenger.SendButtons(ctx, tenant.PhoneNumberID, conv.Phone, body, confirmButtons, ""); err != nil {
			return err
		}
		return e.recordAssistant(ctx, conv, body)
	}

	body := alternativesBody(result.Status == availability.StatusSameDate, options)
	if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, body); err != nil {
		return err
	}
	return e.recordAssistant(ctx, conv, body)
}

func (e *Engine) handleConfirm(ctx context.Context, tenant *accounts.Account, conv *Conversation) error {
	c := &conv.Context

	if c.ReschedulingAppointmentID != "" && c.Intent != nil && !c.Intent.At.IsZero() {
		appointmentID := c.ReschedulingAppointmentID
		at := c.Intent.At
		c.ReschedulingAppointmentID = ""
		c.AwaitingConfirmation = false
		if err := e.store.UpdateContext(ctx, conv.ID, *c); err != nil {
			return err
		}
		return e.finalizer.Reschedule(ctx, tenant, conv.ID, appointmentID, at)
	}

	if !c.AwaitingConfirmation || c.BookingID == "" {
		_, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, msgNothingPending)
		return err
	}

	if tenant.Payments.Enabled {
		if !tenant.PaymentsConfigured() {
			body := paymentsMisconfigBody(tenant.PaymentMisconfigReason())
			if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, body); err != nil {
				return err
			}
			return e.recordAssistant(ctx, conv, body)
		}
		return e.startCheckout(ctx, tenant, conv)
	}

	c.AwaitingConfirmation = false
	if err := e.store.UpdateContext(ctx, conv.ID, *c); err != nil {
		return err
	}
	return e.finalizer.Finalize(ctx, conv.Context.BookingID)
}

func (e *Engine) startCheckout(ctx context.Context, tenant *accounts.Account, conv *Conversation) error {
	c := &conv.Context
	session, err := e.checkout.CreateBookingCheckout(ctx, payments.CheckoutParams{
		Tenant:         tenant,
		BookingID:      c.BookingID,
		ConversationID: conv.ID,
		PatientName:    c.Intent.Name,
		PatientPhone:   conv.Phone,
		Source:         string(bookings.SourceChat),
	})
	if err != nil {
		return fmt.Errorf("conversation: start checkout: %w", err)
	}

	if e.bookings != nil {
		if err := e.bookings.LinkPayment(ctx, c.BookingID, session.ID); err != nil {
			return err
		}
	}

	c.AwaitingConfirmation = false
	if err := e.store.UpdateContext(ctx, conv.ID, *c); err != nil {
		return err
	}

	body := checkoutBody(session.URL, session.AmountCents, session.Currency)
	if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, body); err != nil {
		return err
	}
	return e.recordAssistant(ctx, conv, body)
}

// handleCancelDraft handles ✗ and typed cancel keywords: the draft dies, the
// conversation stays.
func (e *Engine) handleCancelDraft(ctx context.Context, tenant *accounts.Account, conv *Conversation) error {
	c := &conv.Context
	if c.BookingID != "" && e.bookings != nil {
		if err := e.bookings.Cancel(ctx, c.BookingID); err != nil {
			e.logger.Warn("draft booking cancel failed",
				"booking_id", c.BookingID, "conversation_id", conv.ID, "error", err)
		}
	}

	c.Intent = nil
	c.BookingID = ""
	c.Alternatives = nil
	c.ExactMatch = false
	c.AwaitingConfirmation = false
	c.ConfirmationSentAt = nil
	if err := e.store.UpdateContext(ctx, conv.ID, *c); err != nil {
		return err
	}

	if _, err := e.messenger.SendText(ctx, tenant.PhoneNumberID, conv.Phone, msgDraftCancelled); err != nil {
		return err
	}
	return e.recordAssistant(ctx, conv, msgDraftCancelled)
}

func (e *Engine) recordAssistant(ctx context.Context, conv *Conversation, body string) error {
	entry := Message{Role: RoleAssistant, Content: body, CreatedAt: e.now().UTC()}
	if err := e.store.AppendMessage(ctx, conv.ID, entry); err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, entry)
	return nil
}


func chatHistory(conv *Conversation) []ChatMessage {
	history := make([]ChatMessage, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		role := ChatRoleUser
		switch msg.Role {
		case RoleAssistant:
			role = ChatRoleAssistant
		case RoleSystem:
			role = ChatRoleSystem
		}
		history = append(history, ChatMessage{Role: role, Content: msg.Content})
	}
	return history
}

func isCancelKeyword(text string) bool {
	_, ok := cancelKeywords[normalizeReply(text)]
	return ok
}

// parseAlternativeIndex accepts "2", "2.", "opción 2" and similar as a
// 1-based pick into the offered list.
func parseAlternativeIndex(text string, count int) (int, bool) {
	digits := strings.Builder{}
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		} else if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(digits.String())
	if err != nil || idx < 1 || idx > count {
		return 0, false
	}
	return idx, true
}

// looksLikeIndex reports whether a reply is a bare number, so an
// out-of-range pick gets a correction instead of re-extraction.
func looksLikeIndex(text string) bool {
	trimmed := strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func normalizeReply(text string) string {
	trimmed := strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToLower(trimmed)
}
