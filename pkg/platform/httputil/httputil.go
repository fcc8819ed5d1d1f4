// Package httputil renders JSON responses and coded errors.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "classauth/pkg/domain-errors"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and error body. Descriptions of internal
// errors are never exposed.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if de, ok := dErrors.As(err); ok && code != dErrors.CodeInternal {
		body.ErrorDescription = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}
