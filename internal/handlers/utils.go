package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/egolife/directory/internal/search"
	"github.com/egolife/directory/internal/services"
	"github.com/egolife/directory/internal/store"
	"github.com/go-chi/chi/v5"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	if ve, ok := services.AsValidation(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: ve.Fields,
		})
		return
	}
	if dup, ok := store.IsDuplicate(err); ok {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "duplicate value",
			Details: map[string]string{dup.Field: "already_taken_in_" + dup.Class},
		})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, search.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "search unavailable")
	case errors.Is(err, services.ErrNotifierDisabled),
		errors.Is(err, services.ErrAvatarsDisabled):
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
	case errors.Is(err, services.ErrBadResetToken):
		writeError(w, http.StatusUnprocessableEntity, "invalid or expired reset token")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// idList parses a comma-separated id list query parameter. Malformed
// entries are dropped rather than failing the request.
func idList(r *http.Request, key string) []int64 {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id < 1 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
