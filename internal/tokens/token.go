// Package tokens stores and refreshes the per-tenant OAuth credentials used
// against the scheduling CRM. The CRM rotates refresh tokens: every refresh
// response may carry a replacement refresh token, and the old one is dead the
// moment the new one is issued. Losing a rotation therefore strands the
// tenant until a human re-runs the connect flow, so rotations are persisted
// before the new access token is ever handed out.
package tokens

import "time"

// expirySkew is how early a token is treated as expired so that a request
// started just before the boundary does not fly with a stale token.
const expirySkew = 60 * time.Second

// Token is the stored credential set for one tenant.
type Token struct {
	TenantID     string
	LocationID   string
	CompanyID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// IsExpired reports whether the access token should no longer be used as of
// now, including the safety skew.
func (t Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-expirySkew))
}
