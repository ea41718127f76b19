package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	base := New(KindToken, "reauthorization required")
	wrapped := fmt.Errorf("crm: refresh: %w", base)
	if got := KindOf(wrapped); got != KindToken {
		t.Fatalf("expected token kind, got %s", got)
	}
	if got := KindOf(errors.New("plain")); got != KindExternalService {
		t.Fatalf("unknown errors must map to external_service, got %s", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindAuthentication, http.StatusUnauthorized},
		{KindToken, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindExternalService, http.StatusBadGateway},
		{KindConfiguration, http.StatusInternalServerError},
		{KindConversation, http.StatusBadRequest},
		{KindBusinessLogic, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.kind, tt.want, got)
		}
	}
}

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := New(KindToken, "reauthorization required").WithDetail("authorize_url", "https://example.test/oauth")
	WriteJSON(rec, fmt.Errorf("handler: %w", err))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "token" {
		t.Fatalf("expected code token, got %s", body.Error.Code)
	}
	if body.Error.Details["authorize_url"] != "https://example.test/oauth" {
		t.Fatalf("expected detail preserved, got %v", body.Error.Details)
	}
}

func TestWriteJSONMasksUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, errors.New("pq: connection refused"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if got := rec.Body.String(); !json.Valid([]byte(got)) {
		t.Fatalf("expected json body, got %q", got)
	}
	if rec.Body.String() == "" || strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatal("internal error text must not leak")
	}
}

func TestWriteJSONRateLimitHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, New(KindRateLimit, "too many requests").WithDetail("retry_after", "30"))
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After header, got %q", rec.Header().Get("Retry-After"))
	}
}
