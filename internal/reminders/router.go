package reminders

import (
	"context"
	"strings"
	"unicode"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Interactive button ids the reminder prompt uses. Anything with the
// reminder_ prefix belongs to this router.
const (
	ButtonPrefix     = "reminder_"
	ButtonConfirm    = "reminder_confirm"
	ButtonReschedule = "reminder_reschedule"
	ButtonCancel     = "reminder_cancel"
)

var replyButtons = []chatapp.Button{
	{ID: ButtonConfirm, Title: "✅ Confirmar"},
	{ID: ButtonReschedule, Title: "📅 Reprogramar"},
	{ID: ButtonCancel, Title: "❌ Cancelar"},
}

const (
	msgThanksConfirmed = "¡Gracias por confirmar! Te esperamos en tu cita. 😊"

	msgCancelled = "Tu cita ha sido cancelada. Si quieres agendar una nueva, escríbeme cuando gustes."

	msgCancelFailed = "No pude cancelar tu cita en este momento. Por favor contacta directamente al consultorio."

	msgAskNewTime = "Claro, ¿para qué fecha y hora te gustaría mover tu cita?"

	msgReplyPrompt = "Sobre tu cita de hoy, ¿qué te gustaría hacer?"

	msgExpiredReminder = "Ese recordatorio ya expiró. Si necesitas algo sobre tu cita, escríbeme y con gusto te ayudo."
)

var confirmKeywords = map[string]struct{}{
	"confirmar": {}, "confirm": {}, "si": {}, "sí": {}, "ok": {}, "perfecto": {},
}

var cancelKeywords = map[string]struct{}{
	"cancelar": {}, "cancel": {}, "no": {}, "cancela": {},
}

// rescheduleKeywords are matched by substring: patients write "quiero cambiar
// mi cita", not the bare keyword.
var rescheduleKeywords = []string{
	"cambiar", "reprogramar", "mover", "reschedule", "otra hora", "otro dia", "otro día",
}

type contextStore interface {
	Get(ctx context.Context, phone string) (*ActiveContext, error)
	Clear(ctx context.Context, phone string) error
}

type appointmentCanceller interface {
	CancelAppointment(ctx context.Context, tenantID, appointmentID string) error
}

// conversationContexts stores the rescheduling sub-mode on the chat session.
type conversationContexts interface {
	GetOrCreate(ctx context.Context, tenantID, phone string) (*conversation.Conversation, error)
	UpdateContext(ctx context.Context, conversationID string, c conversation.Context) error
}

type replyMessenger interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
	SendButtons(ctx context.Context, phoneNumberID, to, body string, buttons []chatapp.Button, footer string) (string, error)
}

// Router gets first claim on inbound messages from phones with an open
// reminder context. It satisfies the conversation worker's ReminderRouter.
type Router struct {
	contexts      contextStore
	calendar      appointmentCanceller
	conversations conversationContexts
	messenger     replyMessenger
	logger        *logging.Logger
}

func NewRouter(contexts contextStore, calendar appointmentCanceller, conversations conversationContexts, messenger replyMessenger, logger *logging.Logger) *Router {
	if contexts == nil {
		panic("reminders: context store required")
	}
	if messenger == nil {
		panic("reminders: messenger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		contexts:      contexts,
		calendar:      calendar,
		conversations: conversations,
		messenger:     messenger,
		logger:        logger,
	}
}

// Handle routes the message into reminder handling when the sender has an
// open context. It reports whether it consumed the message; false hands the
// message on to the conversation engine.
func (r *Router) Handle(ctx context.Context, tenant *accounts.Account, msg chatapp.InboundMessage) (bool, error) {
	ac, err := r.contexts.Get(ctx, msg.From)
	if err != nil {
		// Degraded Redis must not block the conversation pipeline.
		r.logger.Warn("reminder context lookup failed", "phone", msg.From, "error", err)
		return false, nil
	}

	if ac == nil {
		if strings.HasPrefix(msg.ButtonID, ButtonPrefix) {
			// A stale button tap from an expired reminder.
			_, err := r.messenger.SendText(ctx, tenant.PhoneNumberID, msg.From, msgExpiredReminder)
			return true, err
		}
		return false, nil
	}

	if strings.HasPrefix(msg.ButtonID, ButtonPrefix) {
		return true, r.dispatchButton(ctx, tenant, msg, ac)
	}
	if msg.Type == chatapp.TypeText {
		return true, r.dispatchText(ctx, tenant, msg, ac)
	}
	// Image or other unsupported type inside the window: re-prompt.
	return true, r.prompt(ctx, tenant, msg.From)
}

func (r *Router) dispatchButton(ctx context.Context, tenant *accounts.Account, msg chatapp.InboundMessage, ac *ActiveContext) error {
	switch msg.ButtonID {
	case ButtonConfirm:
		return r.confirm(ctx, tenant, msg.From)
	case ButtonCancel:
		return r.cancel(ctx, tenant, msg.From, ac)
	case ButtonReschedule:
		return r.reschedule(ctx, tenant, msg.From, ac)
	default:
		r.logger.Warn("unknown reminder button", "button_id", msg.ButtonID, "tenant_id", tenant.ID)
		return r.prompt(ctx, tenant, msg.From)
	}
}

func (r *Router) dispatchText(ctx context.Context, tenant *accounts.Account, msg chatapp.InboundMessage, ac *ActiveContext) error {
	normalized := normalizeReply(msg.Text)
	if _, ok := confirmKeywords[normalized]; ok {
		return r.confirm(ctx, tenant, msg.From)
	}
	if _, ok := cancelKeywords[normalized]; ok {
		return r.cancel(ctx, tenant, msg.From, ac)
	}
	for _, kw := range rescheduleKeywords {
		if strings.Contains(normalized, kw) {
			return r.reschedule(ctx, tenant, msg.From, ac)
		}
	}
	return r.prompt(ctx, tenant, msg.From)
}

func (r *Router) confirm(ctx context.Context, tenant *accounts.Account, phone string) error {
	if _, err := r.messenger.SendText(ctx, tenant.PhoneNumberID, phone, msgThanksConfirmed); err != nil {
		return err
	}
	return r.clear(ctx, phone)
}

func (r *Router) cancel(ctx context.Context, tenant *accounts.Account, phone string, ac *ActiveContext) error {
	if r.calendar != nil {
		if err := r.calendar.CancelAppointment(ctx, ac.TenantID, ac.AppointmentID); err != nil {
			r.logger.Error("reminder cancel failed",
				"tenant_id", ac.TenantID, "appointment_id", ac.AppointmentID, "error", err)
			_, sendErr := r.messenger.SendText(ctx, tenant.PhoneNumberID, phone, msgCancelFailed)
			return sendErr
		}
	}
	if _, err := r.messenger.SendText(ctx, tenant.PhoneNumberID, phone, msgCancelled); err != nil {
		return err
	}
	return r.clear(ctx, phone)
}

// reschedule hands control back to the conversation engine: the patient types
// a new date in free text and the next confirmed slot moves the existing
// appointment instead of creating one.
func (r *Router) reschedule(ctx context.Context, tenant *accounts.Account, phone string, ac *ActiveContext) error {
	if r.conversations != nil {
		conv, err := r.conversations.GetOrCreate(ctx, tenant.ID, phone)
		if err != nil {
			return err
		}
		conv.Context.ReschedulingAppointmentID = ac.AppointmentID
		conv.Context.AwaitingConfirmation = false
		if err := r.conversations.UpdateContext(ctx, conv.ID, conv.Context); err != nil {
			return err
		}
	}
	if _, err := r.messenger.SendText(ctx, tenant.PhoneNumberID, phone, msgAskNewTime); err != nil {
		return err
	}
	// Clear so the patient's next free-text message reaches the engine.
	return r.clear(ctx, phone)
}

func (r *Router) prompt(ctx context.Context, tenant *accounts.Account, phone string) error {
	_, err := r.messenger.SendButtons(ctx, tenant.PhoneNumberID, phone, msgReplyPrompt, replyButtons, "")
	return err
}

func (r *Router) clear(ctx context.Context, phone string) error {
	if err := r.contexts.Clear(ctx, phone); err != nil {
		r.logger.Warn("reminder context clear failed", "phone", phone, "error", err)
	}
	return nil
}

func normalizeReply(text string) string {
	trimmed := strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToLower(trimmed)
}
