package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/internal/http/handlers"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/subscriptions"
)

type stubAccounts struct{}

func (stubAccounts) Create(context.Context, *accounts.Account) error { return nil }
func (stubAccounts) Get(_ context.Context, id string) (*accounts.Account, error) {
	return nil, accounts.ErrNotFound
}
func (stubAccounts) ListActive(context.Context) ([]accounts.Account, error) { return nil, nil }
func (stubAccounts) SetStatus(context.Context, string, accounts.Status) error {
	return nil
}

type stubConversations struct{}

func (stubConversations) ListByPhone(context.Context, string, string) ([]conversation.Conversation, error) {
	return nil, nil
}
func (stubConversations) DeleteByPhone(context.Context, string, string) (int64, error) {
	return 0, nil
}

type stubAssigner struct{}

func (stubAssigner) AdminAssignSubscription(context.Context, *accounts.Account, *payments.TierPricing, string) (string, error) {
	return "sub_1", nil
}

type stubTiers struct{}

func (stubTiers) Pricing(context.Context, string) (*payments.TierPricing, error) {
	return nil, subscriptions.ErrTierNotFound
}
func (stubTiers) ListActive(context.Context) ([]subscriptions.PricingTier, error) {
	return nil, nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return New(&Config{
		Health:         handlers.NewHealthHandler(),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		AccountsAPI:    handlers.NewAccountsAPIHandler(stubAccounts{}, nil, nil),
		Admin:          handlers.NewAdminHandler(stubAccounts{}, stubConversations{}, stubAssigner{}, stubTiers{}, prometheus.NewRegistry(), nil),
		APIKeys:        []string{"test-key", "rotated-key"},
		AdminJWTSecret: "jwt-secret",
	})
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealthzIsPublic(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsIsPublic(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestTenantAPIRequiresKey(t *testing.T) {
	r := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	for _, key := range []string{"test-key", "rotated-key"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
		req.Header.Set("X-API-Key", key)
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with key %q, got %d", key, rec.Code)
		}
	}
}

func TestAdminRequiresJWT(t *testing.T) {
	r := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "jwt-secret"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestUnmountedRoutesAre404(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webchat/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmounted webchat, got %d", rec.Code)
	}
}
