package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/medagenda/citas-ai-platform/internal/phone"
)

type contactEnvelope struct {
	Contact Contact `json:"contact"`
}

type contactSearchResponse struct {
	Contacts []Contact `json:"contacts"`
}

// duplicateContactError is the CRM's 400 body when a contact with the same
// phone already exists. The existing id rides in meta.contactId.
type duplicateContactError struct {
	Message string `json:"message"`
	Meta    struct {
		ContactID string `json:"contactId"`
	} `json:"meta"`
}

// FindOrCreateContact looks for a contact whose phone matches canonically and
// creates one only when nothing matches. A duplicate-contact 400 from the
// create call is treated as success with the existing id.
func (c *Client) FindOrCreateContact(ctx context.Context, tenantID, locationID, name, rawPhone, email string) (*Contact, error) {
	canonical := phone.Canonicalize(rawPhone)
	if canonical == "" {
		return nil, fmt.Errorf("crm: contact phone %q has no digits", rawPhone)
	}

	if existing, err := c.findContactByPhone(ctx, tenantID, locationID, canonical); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	body := map[string]any{
		"locationId": locationID,
		"name":       name,
		"phone":      phone.Display(canonical),
	}
	if email != "" {
		body["email"] = email
	}

	var created contactEnvelope
	err := c.do(ctx, tenantID, http.MethodPost, "/contacts/", nil, body, apiVersion, &created)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			var dup duplicateContactError
			if json.Unmarshal(apiErr.Body, &dup) == nil && dup.Meta.ContactID != "" {
				c.logger.Info("crm reported duplicate contact, reusing", "contact_id", dup.Meta.ContactID, "tenant_id", tenantID)
				return c.GetContact(ctx, tenantID, dup.Meta.ContactID)
			}
		}
		return nil, err
	}
	if created.Contact.ID == "" {
		return nil, fmt.Errorf("crm: contact create response missing id")
	}
	return &created.Contact, nil
}

func (c *Client) findContactByPhone(ctx context.Context, tenantID, locationID, canonical string) (*Contact, error) {
	query := url.Values{
		"locationId": {locationID},
		"query":      {phone.Display(canonical)},
	}
	var found contactSearchResponse
	if err := c.do(ctx, tenantID, http.MethodGet, "/contacts/", query, nil, apiVersion, &found); err != nil {
		return nil, err
	}
	for i := range found.Contacts {
		if phone.Matches(found.Contacts[i].Phone, canonical) {
			return &found.Contacts[i], nil
		}
	}
	return nil, nil
}

// GetContact fetches a contact by id.
func (c *Client) GetContact(ctx context.Context, tenantID, contactID string) (*Contact, error) {
	var out contactEnvelope
	if err := c.do(ctx, tenantID, http.MethodGet, "/contacts/"+contactID, nil, nil, apiVersion, &out); err != nil {
		return nil, err
	}
	return &out.Contact, nil
}

// UpdateContact patches contact fields. Only non-empty fields are sent.
func (c *Client) UpdateContact(ctx context.Context, tenantID, contactID, name, email, notes string) error {
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	if email != "" {
		body["email"] = email
	}
	if notes != "" {
		body["notes"] = notes
	}
	if len(body) == 0 {
		return nil
	}
	return c.do(ctx, tenantID, http.MethodPut, "/contacts/"+contactID, nil, body, apiVersion, nil)
}
