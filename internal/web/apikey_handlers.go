package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
)

type passkeyItem struct {
	ID   string
	Name string
}

type settingsView struct {
	page
	Passkeys        []passkeyItem
	PasskeysEnabled bool
	Keys            []auth.APIKey
	// NewKey is the raw key just created. It is shown once.
	NewKey string
}

// handleSettings renders passkey and API key management.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.renderSettings(w, r, "")
}

func (s *Server) renderSettings(w http.ResponseWriter, r *http.Request, newKey string) {
	id, _ := auth.IdentityFrom(r.Context())

	stored, err := s.passkeys.ListByEmail(id.Email)
	if err != nil {
		slog.Error("loading passkeys", "email", id.Email, "err", err)
		http.Error(w, "Error loading passkeys", http.StatusInternalServerError)
		return
	}
	keys, err := s.apiKeys.List(id.Email)
	if err != nil {
		slog.Error("loading api keys", "email", id.Email, "err", err)
		http.Error(w, "Error loading API keys", http.StatusInternalServerError)
		return
	}

	passkeys := make([]passkeyItem, len(stored))
	for i, sc := range stored {
		passkeys[i] = passkeyItem{ID: sc.ID, Name: sc.Name}
	}

	s.render(w, "settings.html", settingsView{
		page:            s.newPage(r, "Settings", "settings"),
		Passkeys:        passkeys,
		PasskeysEnabled: s.cfg.BaseURL != "",
		Keys:            keys,
		NewKey:          newKey,
	})
}

// handleKeyCreate issues an API key for the CLI or terminal form.
func (s *Server) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, _ := auth.IdentityFrom(r.Context())

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = "API Key"
	}

	raw, _, err := s.apiKeys.Create(id.Email, name)
	if err != nil {
		slog.Error("creating api key", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.renderSettings(w, r, raw)
}

// handleKeyDelete revokes one of the caller's API keys.
func (s *Server) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, _ := auth.IdentityFrom(r.Context())

	keyID, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid key ID", http.StatusBadRequest)
		return
	}

	if err := s.apiKeys.Delete(keyID, id.Email); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("deleting api key", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.board.Post(id.SessionID, advisory.Advisory{Kind: advisory.Info, Message: "API key revoked.", Transient: true})
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// apiListKeys returns the caller's API keys (without raw keys).
func (s *Server) apiListKeys(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	keys, err := s.apiKeys.List(id.Email)
	if err != nil {
		slog.Error("listing api keys", "err", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []auth.APIKey{}
	}
	apiJSON(w, keys, http.StatusOK)
}

// apiDeleteKey revokes one of the caller's API keys by ID.
func (s *Server) apiDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	keyID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		apiError(w, "invalid key ID", http.StatusBadRequest)
		return
	}

	if err := s.apiKeys.Delete(keyID, id.Email); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			apiError(w, "key not found", http.StatusNotFound)
			return
		}
		slog.Error("deleting api key", "err", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
