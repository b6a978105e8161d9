// Package httpjson holds the JSON response helpers shared by the HTTP
// handlers and the mapping from domain errors to status codes.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cashoutai/tradedesk/internal/model"
)

// MaxBodyBytes caps decoded request bodies. Image uploads are the largest
// payloads and are limited separately by their handlers.
const MaxBodyBytes = 8 << 20

// Write encodes v as the JSON response body with the given status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	Write(w, status, map[string]string{"error": message})
}

// Error maps err onto a status code and writes it. Unclassified errors are
// logged and reported as 500 without leaking their text.
func Error(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		WriteError(w, "internal error", status)
		return
	}
	WriteError(w, err.Error(), status)
}

// Status returns the HTTP status for a domain error.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrExternalUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into dst, rejecting unknown fields and bodies
// over MaxBodyBytes. Failures wrap model.ErrInvalidState and the decoder
// error, so an empty body still matches io.EOF.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w: %w", err, model.ErrInvalidState)
	}
	return nil
}
