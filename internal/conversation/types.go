// Package conversation is the WhatsApp booking conversation: a per-(tenant,
// patient) session store, the LLM boundary, and the turn engine that drives
// extraction, availability checks and the confirmation sub-state.
package conversation

import "time"

// Status is the conversation lifecycle. completed, expired and cancelled are
// terminal; the next inbound message under the same (tenant, phone) opens a
// new session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a new session must be opened for further messages.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Message roles in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry in the conversation log.
type Message struct {
	Role      string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Intent is the appointment draft extracted from the dialogue. At is zero
// until a parseable datetime surfaces.
type Intent struct {
	Name   string    `json:"name"`
	Reason string    `json:"reason"`
	Email  string    `json:"email"`
	At     time.Time `json:"at"`
	Raw    string    `json:"raw"`
}

// Complete reports whether the draft can go to the slot resolver.
func (i Intent) Complete() bool {
	return i.Name != "" && i.Reason != "" && !i.At.IsZero()
}

// SlotOption is one offered slot, frozen on the context so index replies
// resolve against exactly what the patient saw.
type SlotOption struct {
	At      time.Time `json:"at"`
	Date    string    `json:"date"`
	Time    string    `json:"time"`
	Display string    `json:"display"`
}

// Context is the mutable per-conversation state the engine reads and writes
// between turns.
type Context struct {
	UserName  string `json:"user_name,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	Email     string `json:"email,omitempty"`

	Intent *Intent `json:"intent,omitempty"`

	AwaitingConfirmation bool         `json:"awaiting_confirmation,omitempty"`
	ConfirmationSentAt   *time.Time   `json:"confirmation_sent_at,omitempty"`
	ExactMatch           bool         `json:"exact_match,omitempty"`
	Alternatives         []SlotOption `json:"alternatives,omitempty"`

	BookingID string `json:"booking_id,omitempty"`

	// Set by the reminder reply router; the next confirmed slot moves the
	// existing CRM appointment instead of creating one.
	ReschedulingAppointmentID string `json:"rescheduling_appointment_id,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Conversation is one session between a tenant's number and a patient.
type Conversation struct {
	ID       string
	TenantID string
	Phone    string // canonical
	Session  int

	Messages []Message
	Context  Context
	Status   Status

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}
