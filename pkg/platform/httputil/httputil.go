// Package httputil centralizes JSON response encoding and the translation of
// domain errors into HTTP status codes so every handler speaks the same
// envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"vaultrail/pkg/platform/sentinel"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError maps a domain error onto the HTTP surface. Unknown errors
// collapse to 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, sentinel.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, sentinel.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, sentinel.ErrKeyNotFound):
		status, code = http.StatusConflict, "key_not_found"
	case errors.Is(err, sentinel.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, sentinel.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, sentinel.ErrDecryptionFailed):
		status, code = http.StatusUnprocessableEntity, "decryption_failed"
	}

	env := errorEnvelope{Error: code}
	if status < http.StatusInternalServerError {
		env.Message = err.Error()
	}
	WriteJSON(w, status, env)
}

// DecodeJSON strictly decodes a request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(sentinel.ErrInvalidInput, err)
	}
	return nil
}
