package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/rbac"
)

// exportEntity streams a CSV download with the conventional filename.
func (a *API) exportEntity(w http.ResponseWriter, r *http.Request, perm, entity string, export func(context.Context, io.Writer) error) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, perm) {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.bulk.Filename(entity)))
	if err := export(r.Context(), w); err != nil {
		// Headers may already be out; log and cut the stream.
		_ = audit.LogEvent(r.Context(), "bulk.export.failed", map[string]any{
			"entity": entity,
			"error":  err.Error(),
		})
		return
	}
	_ = audit.LogEvent(r.Context(), "bulk.export", map[string]any{"entity": entity})
}

// importEntity accepts a multipart upload (field "file") and upserts the
// batch all-or-nothing.
func (a *API) importEntity(w http.ResponseWriter, r *http.Request, perm, entity string, imp func(context.Context, io.Reader) (int, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, perm) {
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		fail(w, http.StatusBadRequest, "csv file upload is required")
		return
	}
	defer file.Close()

	count, err := imp(r.Context(), file)
	if err != nil {
		if errors.Is(err, rbac.ErrInvalidInput) {
			fail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		handleServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "bulk.import", map[string]any{
		"entity": entity,
		"rows":   count,
	})
	respond(w, http.StatusOK, map[string]any{"imported": count})
}
