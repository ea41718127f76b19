package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

type accountStore interface {
	Create(ctx context.Context, a *accounts.Account) error
	Get(ctx context.Context, id string) (*accounts.Account, error)
	ListActive(ctx context.Context) ([]accounts.Account, error)
	SetStatus(ctx context.Context, id string, status accounts.Status) error
}

// phoneRegistrar performs the one-shot WhatsApp number registration.
// *chatapp.Client satisfies it.
type phoneRegistrar interface {
	Register(ctx context.Context, phoneNumberID, pin, region string) error
}

// AccountsAPIHandler is the key-guarded tenant management surface: create an
// account, inspect it, list the active ones, flip its lifecycle status and
// register its WhatsApp number. Everything else about a tenant changes
// through more specific flows (OAuth connect, Stripe onboarding,
// subscription webhooks).
type AccountsAPIHandler struct {
	store     accountStore
	registrar phoneRegistrar
	logger    *logging.Logger
}

func NewAccountsAPIHandler(store accountStore, registrar phoneRegistrar, logger *logging.Logger) *AccountsAPIHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountsAPIHandler{store: store, registrar: registrar, logger: logger}
}

type createAccountRequest struct {
	Name           string `json:"name"`
	PhoneNumberID  string `json:"phone_number_id"`
	CalendarID     string `json:"calendar_id"`
	LocationID     string `json:"location_id"`
	AssignedUserID string `json:"assigned_user_id"`
	Email          string `json:"email"`
	CustomPrompt   string `json:"custom_prompt"`
	Timezone       string `json:"timezone"`

	Payments struct {
		Enabled     bool   `json:"enabled"`
		PriceCents  int64  `json:"price_cents"`
		Currency    string `json:"currency"`
		Description string `json:"description"`
	} `json:"payments"`

	FreeAccount       bool       `json:"free_account"`
	FreeAccountReason string     `json:"free_account_reason"`
	FreeAccountUntil  *time.Time `json:"free_account_until"`
}

type accountResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PhoneNumberID string `json:"phone_number_id"`
	CalendarID    string `json:"calendar_id"`
	LocationID    string `json:"location_id"`
	Email         string `json:"email"`
	Timezone      string `json:"timezone"`
	Status        string `json:"status"`

	Payments struct {
		Enabled            bool   `json:"enabled"`
		Configured         bool   `json:"configured"`
		MisconfigReason    string `json:"misconfig_reason,omitempty"`
		ConnectedAccountID string `json:"connected_account_id,omitempty"`
		PriceCents         int64  `json:"price_cents"`
		Currency           string `json:"currency"`
	} `json:"payments"`

	Subscription struct {
		TierID           string     `json:"tier_id,omitempty"`
		Status           string     `json:"status,omitempty"`
		CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
		FreeAccount      bool       `json:"free_account"`
	} `json:"subscription"`

	CreatedAt time.Time `json:"created_at"`
}

// Create handles POST /api/v1/accounts.
func (h *AccountsAPIHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if req.Name == "" || req.PhoneNumberID == "" || req.CalendarID == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "name, phone_number_id and calendar_id are required"))
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "unknown timezone").WithDetail("timezone", req.Timezone))
			return
		}
	}

	a := &accounts.Account{
		Name:           req.Name,
		PhoneNumberID:  req.PhoneNumberID,
		CalendarID:     req.CalendarID,
		LocationID:     req.LocationID,
		AssignedUserID: req.AssignedUserID,
		Email:          req.Email,
		CustomPrompt:   req.CustomPrompt,
		Timezone:       req.Timezone,
		Payments: accounts.PaymentsBlock{
			Enabled:     req.Payments.Enabled,
			PriceCents:  req.Payments.PriceCents,
			Currency:    req.Payments.Currency,
			Description: req.Payments.Description,
		},
		Subscription: accounts.SubscriptionBlock{
			IsFreeAccount:      req.FreeAccount,
			FreeAccountReason:  req.FreeAccountReason,
			FreeAccountExpires: req.FreeAccountUntil,
		},
	}
	if err := h.store.Create(r.Context(), a); err != nil {
		h.logger.Error("account create failed", "error", err, "name", req.Name)
		apperrors.WriteJSON(w, err)
		return
	}

	h.logger.Info("account created", "account_id", a.ID, "name", a.Name)
	writeJSON(w, http.StatusCreated, toAccountResponse(a))
}

// Get handles GET /api/v1/accounts/{id}.
func (h *AccountsAPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// List handles GET /api/v1/accounts and returns the active tenants.
func (h *AccountsAPIHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListActive(r.Context())
	if err != nil {
		h.logger.Error("account list failed", "error", err)
		apperrors.WriteJSON(w, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for i := range list {
		out = append(out, toAccountResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out, "count": len(out)})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PATCH /api/v1/accounts/{id}/status.
func (h *AccountsAPIHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	status := accounts.Status(req.Status)
	switch status {
	case accounts.StatusActive, accounts.StatusInactive, accounts.StatusSuspended:
	default:
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "status must be active, inactive or suspended"))
		return
	}

	if err := h.store.SetStatus(r.Context(), a.ID, status); err != nil {
		h.logger.Error("account status update failed", "error", err, "account_id", a.ID)
		apperrors.WriteJSON(w, err)
		return
	}
	h.logger.Info("account status updated", "account_id", a.ID, "status", status)
	writeJSON(w, http.StatusOK, map[string]string{"id": a.ID, "status": string(status)})
}

type registerPhoneRequest struct {
	PIN    string `json:"pin"`
	Region string `json:"region"`
}

// RegisterPhone handles POST /api/v1/accounts/{id}/register: the one-shot
// WhatsApp Cloud API registration of the account's phone number.
func (h *AccountsAPIHandler) RegisterPhone(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}
	if h.registrar == nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindConfiguration, "phone registration is not configured"))
		return
	}

	var req registerPhoneRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if req.PIN == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "pin is required"))
		return
	}

	if err := h.registrar.Register(r.Context(), a.PhoneNumberID, req.PIN, req.Region); err != nil {
		h.logger.Error("phone registration failed", "error", err, "account_id", a.ID, "phone_number_id", a.PhoneNumberID)
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": a.ID, "phone_number_id": a.PhoneNumberID, "status": "registered"})
}

func (h *AccountsAPIHandler) load(w http.ResponseWriter, r *http.Request) (*accounts.Account, bool) {
	return loadAccount(w, r, h.store)
}

// loadAccount resolves the {id} path parameter against the account store,
// writing the error response itself when the lookup fails.
func loadAccount(w http.ResponseWriter, r *http.Request, getter accountGetter) (*accounts.Account, bool) {
	id := chi.URLParam(r, "id")
	a, err := getter.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "account not found"))
			return nil, false
		}
		apperrors.WriteJSON(w, err)
		return nil, false
	}
	return a, true
}

func toAccountResponse(a *accounts.Account) accountResponse {
	var resp accountResponse
	resp.ID = a.ID
	resp.Name = a.Name
	resp.PhoneNumberID = a.PhoneNumberID
	resp.CalendarID = a.CalendarID
	resp.LocationID = a.LocationID
	resp.Email = a.Email
	resp.Timezone = a.Timezone
	resp.Status = string(a.Status)

	resp.Payments.Enabled = a.Payments.Enabled
	resp.Payments.Configured = a.PaymentsConfigured()
	resp.Payments.MisconfigReason = a.PaymentMisconfigReason()
	resp.Payments.ConnectedAccountID = a.Payments.ConnectedAccountID
	resp.Payments.PriceCents = a.Payments.PriceCents
	resp.Payments.Currency = a.CurrencyOrDefault()

	resp.Subscription.TierID = a.Subscription.TierID
	resp.Subscription.Status = string(a.Subscription.Status)
	resp.Subscription.CurrentPeriodEnd = a.Subscription.CurrentPeriodEnd
	resp.Subscription.FreeAccount = a.Subscription.IsFreeAccount

	resp.CreatedAt = a.CreatedAt
	return resp
}
