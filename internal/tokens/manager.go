package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// OAuthConfig holds the CRM marketplace app credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// BaseURL is the CRM API host, e.g. "https://services.leadconnectorhq.com".
	BaseURL string
	// MarketplaceURL hosts the authorize page. Defaults to the public
	// marketplace when empty.
	MarketplaceURL string
	Scopes         []string
}

func (c OAuthConfig) marketplaceURL() string {
	if c.MarketplaceURL != "" {
		return strings.TrimRight(c.MarketplaceURL, "/")
	}
	return "https://marketplace.leadconnectorhq.com"
}

type tokenStore interface {
	Get(ctx context.Context, tenantID string) (Token, error)
	Save(ctx context.Context, tok Token) error
	ReplaceAccess(ctx context.Context, tenantID, accessToken string, expiresAt time.Time) error
}

// Manager hands out valid access tokens, refreshing them when needed.
// Refreshes are serialized per tenant: with rotation enabled, two concurrent
// refreshes with the same refresh token mean the loser invalidates the
// winner's brand-new credentials.
type Manager struct {
	store  tokenStore
	cfg    OAuthConfig
	client *http.Client
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store tokenStore, cfg OAuthConfig, logger *logging.Logger) *Manager {
	if store == nil {
		panic("tokens: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// EnsureValid returns a token whose access token can be used right now.
// An expired token is refreshed exactly once; a rejected refresh surfaces a
// token-kind error and never retries, since retrying a dead refresh token
// only burns rate limit.
func (m *Manager) EnsureValid(ctx context.Context, tenantID string) (Token, error) {
	tok, err := m.store.Get(ctx, tenantID)
	if err != nil {
		if err == ErrNotConnected {
			return Token{}, m.reauthorizeError(tenantID, "tenant is not connected to the scheduling system")
		}
		return Token{}, err
	}
	if !tok.IsExpired(time.Now()) {
		return tok, nil
	}

	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	// Another goroutine may have refreshed while we waited on the lock.
	tok, err = m.store.Get(ctx, tenantID)
	if err != nil {
		if err == ErrNotConnected {
			return Token{}, m.reauthorizeError(tenantID, "tenant is not connected to the scheduling system")
		}
		return Token{}, err
	}
	if !tok.IsExpired(time.Now()) {
		return tok, nil
	}

	return m.refresh(ctx, tok)
}

func (m *Manager) tenantLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := m.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[tenantID] = lock
	}
	return lock
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserType     string `json:"userType"`
}

func (m *Manager) refresh(ctx context.Context, tok Token) (Token, error) {
	data := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
		"user_type":     {"Location"},
	}

	resp, err := m.postToken(ctx, data)
	if err != nil {
		return Token{}, apperrors.Wrap(apperrors.KindExternalService, "token refresh request failed", err)
	}
	if resp == nil {
		m.logger.Warn("refresh token rejected, tenant must reauthorize", "tenant_id", tok.TenantID)
		return Token{}, m.reauthorizeError(tok.TenantID, "the scheduling system rejected the stored credentials")
	}

	now := time.Now()
	updated := Token{
		TenantID:     tok.TenantID,
		LocationID:   tok.LocationID,
		CompanyID:    tok.CompanyID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		UpdatedAt:    now,
	}
	if resp.LocationID != "" {
		updated.LocationID = resp.LocationID
	}
	if resp.CompanyID != "" {
		updated.CompanyID = resp.CompanyID
	}

	if resp.RefreshToken != "" {
		// Rotation: persist the replacement before anyone uses the new
		// access token.
		if err := m.store.Save(ctx, updated); err != nil {
			return Token{}, err
		}
	} else {
		updated.RefreshToken = tok.RefreshToken
		if err := m.store.ReplaceAccess(ctx, tok.TenantID, updated.AccessToken, updated.ExpiresAt); err != nil {
			return Token{}, err
		}
	}

	m.logger.Info("refreshed crm access token", "tenant_id", tok.TenantID, "rotated", resp.RefreshToken != "", "expires_at", updated.ExpiresAt)
	return updated, nil
}

// ExchangeCode swaps an authorization code for a credential set. The caller
// persists it and links the location to a tenant.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (Token, error) {
	data := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {m.cfg.RedirectURI},
		"user_type":     {"Location"},
	}

	resp, err := m.postToken(ctx, data)
	if err != nil {
		return Token{}, apperrors.Wrap(apperrors.KindExternalService, "code exchange request failed", err)
	}
	if resp == nil {
		return Token{}, apperrors.New(apperrors.KindAuthentication, "authorization code was rejected")
	}

	now := time.Now()
	return Token{
		LocationID:   resp.LocationID,
		CompanyID:    resp.CompanyID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		UpdatedAt:    now,
	}, nil
}

// postToken returns (nil, nil) when the endpoint answered with a non-2xx
// status, meaning the grant itself was rejected rather than the transport
// failing.
func (m *Manager) postToken(ctx context.Context, data url.Values) (*tokenResponse, error) {
	endpoint := strings.TrimRight(m.cfg.BaseURL, "/") + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("tokens: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokens: token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tokens: read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Error("crm token endpoint rejected grant", "status", resp.StatusCode, "body", string(body))
		return nil, nil
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("tokens: parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("tokens: token response missing access_token")
	}
	return &parsed, nil
}

// AuthorizeURL builds the marketplace page where a tenant picks the location
// to connect.
func (m *Manager) AuthorizeURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {m.cfg.ClientID},
		"redirect_uri":  {m.cfg.RedirectURI},
		"state":         {state},
	}
	if len(m.cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(m.cfg.Scopes, " "))
	}
	return fmt.Sprintf("%s/oauth/chooselocation?%s", m.cfg.marketplaceURL(), params.Encode())
}

func (m *Manager) reauthorizeError(tenantID, msg string) error {
	return apperrors.New(apperrors.KindToken, msg).
		WithDetail("tenant_id", tenantID).
		WithDetail("authorize_url", m.AuthorizeURL(""))
}
