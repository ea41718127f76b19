package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type appointmentResponse struct {
	ID    string `json:"id"`
	Event struct {
		ID string `json:"id"`
	} `json:"event"`
	Appointment struct {
		ID                string `json:"id"`
		CalendarID        string `json:"calendarId"`
		LocationID        string `json:"locationId"`
		ContactID         string `json:"contactId"`
		AssignedUserID    string `json:"assignedUserId"`
		Title             string `json:"title"`
		AppointmentStatus string `json:"appointmentStatus"`
		StartTime         string `json:"startTime"`
		EndTime           string `json:"endTime"`
	} `json:"appointment"`
}

func (r appointmentResponse) id() string {
	if r.ID != "" {
		return r.ID
	}
	if r.Event.ID != "" {
		return r.Event.ID
	}
	return r.Appointment.ID
}

// CreateAppointment books a calendar event and returns its id.
func (c *Client) CreateAppointment(ctx context.Context, tenantID string, p AppointmentParams) (string, error) {
	body := map[string]any{
		"calendarId":        p.CalendarID,
		"locationId":        p.LocationID,
		"contactId":         p.ContactID,
		"title":             p.Title,
		"appointmentStatus": "confirmed",
		"startTime":         p.StartTime.Format(time.RFC3339),
		"endTime":           p.EndTime.Format(time.RFC3339),
	}
	if p.AssignedUserID != "" {
		body["assignedUserId"] = p.AssignedUserID
	}

	var out appointmentResponse
	if err := c.do(ctx, tenantID, http.MethodPost, "/calendars/events/appointments", nil, body, apiVersion, &out); err != nil {
		return "", err
	}
	id := out.id()
	if id == "" {
		return "", fmt.Errorf("crm: appointment create response missing id")
	}
	return id, nil
}

// GetAppointment fetches one appointment.
func (c *Client) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*Appointment, error) {
	var out appointmentResponse
	if err := c.do(ctx, tenantID, http.MethodGet, "/calendars/events/appointments/"+appointmentID, nil, nil, apiVersion, &out); err != nil {
		return nil, err
	}
	appt := Appointment{
		ID:             out.Appointment.ID,
		CalendarID:     out.Appointment.CalendarID,
		LocationID:     out.Appointment.LocationID,
		ContactID:      out.Appointment.ContactID,
		AssignedUserID: out.Appointment.AssignedUserID,
		Title:          out.Appointment.Title,
		Status:         out.Appointment.AppointmentStatus,
	}
	if appt.ID == "" {
		appt.ID = appointmentID
	}
	if t, err := time.Parse(time.RFC3339, out.Appointment.StartTime); err == nil {
		appt.StartTime = t
	}
	if t, err := time.Parse(time.RFC3339, out.Appointment.EndTime); err == nil {
		appt.EndTime = t
	}
	return &appt, nil
}

// UpdateAppointment reschedules an appointment to a new window.
func (c *Client) UpdateAppointment(ctx context.Context, tenantID, appointmentID string, start, end time.Time) error {
	body := map[string]any{
		"startTime": start.Format(time.RFC3339),
		"endTime":   end.Format(time.RFC3339),
	}
	return c.do(ctx, tenantID, http.MethodPut, "/calendars/events/appointments/"+appointmentID, nil, body, apiVersion, nil)
}

// CancelAppointment flips the appointment status to cancelled. The event row
// stays so history and analytics keep seeing it.
func (c *Client) CancelAppointment(ctx context.Context, tenantID, appointmentID string) error {
	body := map[string]any{"appointmentStatus": "cancelled"}
	return c.do(ctx, tenantID, http.MethodPut, "/calendars/events/appointments/"+appointmentID, nil, body, apiVersion, nil)
}

type eventsResponse struct {
	Events []CalendarEvent `json:"events"`
}

// ListAppointments returns the calendar events in [start, end]. The reminder
// batch filters on appointment status at the call site.
func (c *Client) ListAppointments(ctx context.Context, tenantID, locationID, calendarID string, start, end time.Time) ([]CalendarEvent, error) {
	query := url.Values{
		"locationId": {locationID},
		"calendarId": {calendarID},
		"startTime":  {msEpoch(start)},
		"endTime":    {msEpoch(end)},
	}
	var out eventsResponse
	if err := c.do(ctx, tenantID, http.MethodGet, "/calendars/events", query, nil, apiVersion, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}
