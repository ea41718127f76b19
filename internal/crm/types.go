package crm

import "time"

// AppointmentDuration is policy, not CRM-derived: every appointment booked
// through the platform is 50 minutes.
const AppointmentDuration = 50 * time.Minute

// Contact is the CRM contact subset the platform reads and writes.
type Contact struct {
	ID         string `json:"id"`
	LocationID string `json:"locationId"`
	Name       string `json:"name"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

// DisplayName prefers the full name, falling back to first+last.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.LastName != "" {
		return c.FirstName + " " + c.LastName
	}
	return c.FirstName
}

// Appointment is a calendar event row.
type Appointment struct {
	ID             string
	CalendarID     string
	LocationID     string
	ContactID      string
	AssignedUserID string
	Title          string
	Status         string
	StartTime      time.Time
	EndTime        time.Time
}

// AppointmentParams carries the fields for creating or rescheduling an
// appointment.
type AppointmentParams struct {
	CalendarID     string
	LocationID     string
	ContactID      string
	AssignedUserID string
	Title          string
	StartTime      time.Time
	EndTime        time.Time
}

// FreeSlot is one reservable time from the free-slots endpoint, normalized
// from either the bare "HH:MM" or the full ISO shape.
type FreeSlot struct {
	Date string // tenant-local YYYY-MM-DD
	Time string // tenant-local HH:MM
	At   time.Time
}

// BlockedSlot is a calendar block that makes a time unavailable.
type BlockedSlot struct {
	ID        string
	Title     string
	StartTime time.Time
	EndTime   time.Time
}

// CalendarEvent is the reminder batch's view of an appointment.
type CalendarEvent struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	CalendarID        string `json:"calendarId"`
	ContactID         string `json:"contactId"`
	AppointmentStatus string `json:"appointmentStatus"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
}

// Start parses the event's start instant. The API answers with RFC3339 on
// most calendars and a zoneless ISO variant on some.
func (e CalendarEvent) Start() (time.Time, bool) {
	return parseEventTime(e.StartTime)
}
