package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/evcraddock/street-kams/internal/auth"
)

// userRequest creates a KAM account.
type userRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// apiListUsers lists every account. Admin only.
func (s *Server) apiListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List()
	if err != nil {
		apiError(w, "listing users: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	apiJSON(w, users, http.StatusOK)
}

// apiAddUser creates an account. Admin only.
func (s *Server) apiAddUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		apiError(w, "email is required", http.StatusBadRequest)
		return
	}

	user, err := s.users.Add(req.Email, req.Name, req.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		apiError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		apiError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		apiError(w, "adding user: "+err.Error(), http.StatusInternalServerError)
		return
	}
	apiJSON(w, user, http.StatusCreated)
}

// apiDeleteUser removes an account with its sessions, keys and passkeys.
// Admin only. Recorded visits stay.
func (s *Server) apiDeleteUser(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if err := s.users.Delete(email); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			apiError(w, "user not found", http.StatusNotFound)
			return
		}
		apiError(w, "deleting user: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
