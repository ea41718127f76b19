package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
)

// DefaultAPIKeyHeader is the header the tenant key travels in unless the
// deployment overrides it.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey guards the tenant API surface with a set of shared keys so a
// rotation can keep the old and the new key valid together. Keys are compared
// in constant time. No configured key locks the surface rather than opening
// it.
func APIKey(header string, keys []string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				apperrors.WriteJSON(w, apperrors.New(apperrors.KindAuthentication, "api access disabled"))
				return
			}
			got := []byte(r.Header.Get(header))
			valid := false
			for _, key := range keys {
				if subtle.ConstantTimeCompare(got, []byte(key)) == 1 {
					valid = true
				}
			}
			if !valid {
				apperrors.WriteJSON(w, apperrors.New(apperrors.KindAuthentication, "invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
