package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
)

func accountsRouter(h *AccountsAPIHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/accounts", h.Create)
	r.Get("/api/v1/accounts", h.List)
	r.Get("/api/v1/accounts/{id}", h.Get)
	r.Patch("/api/v1/accounts/{id}/status", h.SetStatus)
	r.Post("/api/v1/accounts/{id}/register", h.RegisterPhone)
	return r
}

type fakeRegistrar struct {
	phoneNumberID string
	pin           string
	region        string
	err           error
}

func (f *fakeRegistrar) Register(_ context.Context, phoneNumberID, pin, region string) error {
	f.phoneNumberID, f.pin, f.region = phoneNumberID, pin, region
	return f.err
}

func TestCreateAccountValidates(t *testing.T) {
	h := NewAccountsAPIHandler(&fakeAccountStore{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(`{"name":"Clínica"}`))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without phone_number_id, got %d", rec.Code)
	}
}

func TestCreateAccountRejectsBadTimezone(t *testing.T) {
	h := NewAccountsAPIHandler(&fakeAccountStore{}, nil, nil)
	payload := `{"name":"Clínica","phone_number_id":"pnid-1","calendar_id":"cal-1","timezone":"Not/AZone"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timezone, got %d", rec.Code)
	}
}

func TestCreateAccountReturnsRecord(t *testing.T) {
	store := &fakeAccountStore{}
	h := NewAccountsAPIHandler(store, nil, nil)
	payload := `{
		"name": "Clínica Uno",
		"phone_number_id": "pnid-1",
		"calendar_id": "cal-1",
		"timezone": "America/Mexico_City",
		"payments": {"enabled": true, "price_cents": 50000}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body accountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ID == "" || body.Name != "Clínica Uno" || !body.Payments.Enabled {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Payments.Configured {
		t.Fatal("a new account cannot be payments-configured yet")
	}
	if _, ok := store.accounts[body.ID]; !ok {
		t.Fatal("account not persisted")
	}
}

func TestGetAccountNotFound(t *testing.T) {
	h := NewAccountsAPIHandler(&fakeAccountStore{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/ghost", nil)
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*accounts.Account{
		"acct-1": {ID: "acct-1", Status: accounts.StatusActive},
	}}
	h := NewAccountsAPIHandler(store, nil, nil)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/accounts/acct-1/status", strings.NewReader(`{"status":"frozen"}`))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if store.accounts["acct-1"].Status != accounts.StatusActive {
		t.Fatal("status must not change on invalid input")
	}
}

func TestSetStatusSuspends(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*accounts.Account{
		"acct-1": {ID: "acct-1", Status: accounts.StatusActive},
	}}
	h := NewAccountsAPIHandler(store, nil, nil)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/accounts/acct-1/status", strings.NewReader(`{"status":"suspended"}`))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if store.accounts["acct-1"].Status != accounts.StatusSuspended {
		t.Fatalf("status not applied: %s", store.accounts["acct-1"].Status)
	}
}

func TestRegisterPhoneRequiresPIN(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*accounts.Account{
		"acct-1": {ID: "acct-1", PhoneNumberID: "pnid-1"},
	}}
	registrar := &fakeRegistrar{}
	h := NewAccountsAPIHandler(store, registrar, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/register", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without pin, got %d", rec.Code)
	}
	if registrar.phoneNumberID != "" {
		t.Fatal("registrar must not be called without a pin")
	}
}

func TestRegisterPhoneUsesAccountNumber(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*accounts.Account{
		"acct-1": {ID: "acct-1", PhoneNumberID: "pnid-1"},
	}}
	registrar := &fakeRegistrar{}
	h := NewAccountsAPIHandler(store, registrar, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/register", strings.NewReader(`{"pin":"123456","region":"MX"}`))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if registrar.phoneNumberID != "pnid-1" || registrar.pin != "123456" || registrar.region != "MX" {
		t.Fatalf("unexpected registrar call: %+v", registrar)
	}
}

func TestRegisterPhoneWithoutRegistrar(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*accounts.Account{
		"acct-1": {ID: "acct-1", PhoneNumberID: "pnid-1"},
	}}
	h := NewAccountsAPIHandler(store, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/register", strings.NewReader(`{"pin":"123456"}`))
	rec := httptest.NewRecorder()

	accountsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when registration is unconfigured, got %d", rec.Code)
	}
}
