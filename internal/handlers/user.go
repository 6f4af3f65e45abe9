package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/egolife/directory/internal/services"
	"github.com/go-chi/chi/v5"
)

// UserHandler exposes the account directory operations over HTTP.
type UserHandler struct {
	svc *services.AccountService
}

func NewUserHandler(svc *services.AccountService) *UserHandler {
	return &UserHandler{svc: svc}
}

// UserRouter registers the directory routes on the given router.
func UserRouter(r chi.Router, svc *services.AccountService) {
	h := NewUserHandler(svc)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/search", h.Search)
	r.Post("/password-reset", h.RequestPasswordReset)
	r.Post("/password-reset/complete", h.CompletePasswordReset)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Put("/{id}/avatar", h.SetAvatar)
	r.Get("/{id}/avatar", h.Avatar)
}

// Get returns a single record by id.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	user, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// List serves three read shapes from one route: ?ids= for bulk lookup,
// ?all=true for an unpaginated scan, and the default paginated listing with
// optional exclusions.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	orderBy := r.URL.Query().Get("order_by")
	direction := r.URL.Query().Get("direction")

	if ids := idList(r, "ids"); len(ids) > 0 {
		users, err := h.svc.GetByIDs(r.Context(), ids, orderBy, direction)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
		return
	}

	if strings.EqualFold(r.URL.Query().Get("all"), "true") {
		users, err := h.svc.ListAll(r.Context(), orderBy, direction)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
		return
	}

	page, err := h.svc.List(
		r.Context(),
		orderBy,
		direction,
		queryInt(r, "page", 1),
		queryInt(r, "per_page", services.DefaultPerPage),
		idList(r, "exclude"),
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Search resolves free text to a page of records.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	page, err := h.svc.Search(
		r.Context(),
		query,
		queryInt(r, "page", 1),
		queryInt(r, "per_page", services.DefaultPerPage),
		idList(r, "exclude"),
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Create makes a new record from a candidate field payload. Unknown fields
// are silently dropped by the service's whitelist.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var fields services.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.svc.Create(r.Context(), fields)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, writeResponse(result))
}

// Update applies a candidate field payload to an existing record.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var fields services.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.svc.Update(r.Context(), id, fields)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse(result))
}

// RequestPasswordReset emits a reset event for the record with the given
// email. Always responds 202 on success; delivery is the collaborator's
// problem.
func (h *UserHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing email")
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested"})
}

// CompletePasswordReset verifies a reset token and sets the new password.
func (h *UserHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.svc.CompletePasswordReset(r.Context(), req.Token, req.Password, req.PasswordConfirmation); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset"})
}

// SetAvatar stores the request body as the record's profile image.
func (h *UserHandler) SetAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if err := h.svc.SetAvatar(r.Context(), id, r.Body, r.ContentLength, contentType); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "avatar stored"})
}

// Avatar streams the record's profile image.
func (h *UserHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	reader, err := h.svc.Avatar(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer reader.Close()

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetCompleteRequest struct {
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// WriteResponse carries the written record plus the non-fatal indexing
// warning, when one occurred.
type WriteResponse struct {
	User    any    `json:"user"`
	Warning string `json:"warning,omitempty"`
}

func writeResponse(result services.WriteResult) WriteResponse {
	resp := WriteResponse{User: result.User}
	if result.Warning != nil {
		resp.Warning = result.Warning.Error()
	}
	return resp
}
