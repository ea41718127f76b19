// Package handlers holds the HTTP boundary: webhook intake, the public
// directory API, the key-guarded tenant API and the admin surface. Handlers
// translate between JSON and the domain services; business rules live in the
// services themselves.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a request body into dst, mapping malformed payloads to the
// validation kind so they surface as 400s.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "invalid JSON body", err)
	}
	return nil
}
