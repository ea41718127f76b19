package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/tokens"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

type oauthManager interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (tokens.Token, error)
}

type oauthStateStore interface {
	Create(ctx context.Context, tenantID string) (string, error)
	Consume(ctx context.Context, state string) (string, error)
}

type tokenSaver interface {
	Save(ctx context.Context, tok tokens.Token) error
}

type accountGetter interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

// OAuthHandler runs the CRM connect flow: a tenant opens /oauth/authorize,
// grants access on the CRM's marketplace page, and lands back on
// /oauth/callback where the code is exchanged and the credentials stored.
// The state parameter is a one-shot Redis entry binding callback to tenant.
type OAuthHandler struct {
	manager oauthManager
	states  oauthStateStore
	store   tokenSaver
	tenants accountGetter
	logger  *logging.Logger
}

func NewOAuthHandler(manager oauthManager, states oauthStateStore, store tokenSaver, tenants accountGetter, logger *logging.Logger) *OAuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OAuthHandler{manager: manager, states: states, store: store, tenants: tenants, logger: logger}
}

// Authorize handles GET /oauth/authorize?account_id and redirects the tenant
// to the CRM's location chooser.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "account_id query parameter is required"))
		return
	}
	if _, err := h.tenants.Get(r.Context(), accountID); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "account not found"))
			return
		}
		apperrors.WriteJSON(w, err)
		return
	}

	state, err := h.states.Create(r.Context(), accountID)
	if err != nil {
		h.logger.Error("oauth state create failed", "error", err, "account_id", accountID)
		apperrors.WriteJSON(w, err)
		return
	}

	http.Redirect(w, r, h.manager.AuthorizeURL(state), http.StatusFound)
}

// Callback handles GET /oauth/callback?code&state. A consumed or unknown
// state means the flow must restart from /oauth/authorize.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "code and state query parameters are required"))
		return
	}

	tenantID, err := h.states.Consume(r.Context(), state)
	if err != nil {
		h.logger.Warn("oauth state rejected", "error", err)
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindAuthentication, "authorization state is invalid or expired"))
		return
	}

	tok, err := h.manager.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", "error", err, "tenant_id", tenantID)
		apperrors.WriteJSON(w, err)
		return
	}

	tok.TenantID = tenantID
	if err := h.store.Save(r.Context(), tok); err != nil {
		h.logger.Error("oauth token save failed", "error", err, "tenant_id", tenantID)
		apperrors.WriteJSON(w, err)
		return
	}

	h.logger.Info("crm connected", "tenant_id", tenantID, "location_id", tok.LocationID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, oauthSuccessPage)
}

const oauthSuccessPage = `<!doctype html>
<html lang="es">
<head><meta charset="utf-8"><title>Cuenta conectada</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
<h1>✅ Cuenta conectada</h1>
<p>Tu calendario quedó vinculado. Ya puedes cerrar esta ventana.</p>
</body>
</html>`
