// Package shared holds the JSON response helpers every handler uses, keeping
// the error envelope identical across endpoints.
package shared

import (
	"encoding/json"
	"net/http"

	apperrors "confirmit/pkg/errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope. Unknown
// errors collapse to a generic internal response; raw error text never leaves
// the process.
func WriteError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	WriteJSON(w, apperrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": apperrors.MessageOf(err),
	})
}
