package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"gatekit.org/internal/rbac"
	"gatekit.org/internal/token"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respond wraps payload fields into the success envelope.
func respond(w http.ResponseWriter, code int, fields map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	writeJSON(w, code, payload)
}

// fail writes the failure envelope.
func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"message": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	fail(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps core sentinel errors to the envelope. Invalid,
// expired, and revoked tokens all collapse into the same generic 401.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrUnauthorized), errors.Is(err, token.ErrInvalidToken):
		fail(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, token.ErrInvalidInput):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrConflict):
		fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrNotFound), errors.Is(err, token.ErrNotFound):
		fail(w, http.StatusNotFound, "resource not found")
	default:
		fail(w, http.StatusInternalServerError, "internal error")
	}
}
