package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
)

// passkeyHandlers holds WebAuthn-related HTTP handlers.
type passkeyHandlers struct {
	wan      *webauthn.WebAuthn
	passkeys *auth.PasskeyStore
	users    *auth.UserStore
	board    *advisory.Board
	// startSession signs the browser in, ending any session it already holds.
	startSession func(w http.ResponseWriter, r *http.Request, email string) (*auth.Session, error)

	// In-flight ceremonies. Registrations are keyed by user ID, logins by
	// challenge so concurrent passkey logins do not clobber each other.
	mu            sync.Mutex
	regSessions   map[string]*webauthn.SessionData
	loginSessions map[string]*webauthn.SessionData
}

func newPasskeyHandlers(baseURL string, passkeys *auth.PasskeyStore, users *auth.UserStore, board *advisory.Board, startSession func(http.ResponseWriter, *http.Request, string) (*auth.Session, error)) (*passkeyHandlers, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	wan, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Street KAMs",
		RPID:          parsed.Hostname(),
		RPOrigins:     []string{strings.TrimRight(baseURL, "/")},
	})
	if err != nil {
		return nil, err
	}

	return &passkeyHandlers{
		wan:           wan,
		passkeys:      passkeys,
		users:         users,
		board:         board,
		startSession:  startSession,
		regSessions:   make(map[string]*webauthn.SessionData),
		loginSessions: make(map[string]*webauthn.SessionData),
	}, nil
}

// passkeyUser loads the signed-in account with its registered credentials.
func (h *passkeyHandlers) passkeyUser(r *http.Request) (*auth.PasskeyUser, error) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		return nil, auth.ErrNoSession
	}
	u, err := h.users.GetByID(id.UserID)
	if err != nil {
		return nil, err
	}
	creds, err := h.passkeys.WebAuthnCredentials(u.Email)
	if err != nil {
		return nil, err
	}
	return auth.NewPasskeyUser(u, creds), nil
}

// handleBeginRegistration starts passkey registration (called from settings page).
func (h *passkeyHandlers) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	user, err := h.passkeyUser(r)
	if err != nil {
		slog.Error("loading passkey user", "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Exclude existing credentials so the user doesn't re-register the same key
	creds := user.WebAuthnCredentials()
	excludeList := make([]protocol.CredentialDescriptor, len(creds))
	for i, c := range creds {
		excludeList[i] = c.Descriptor()
	}

	creation, session, err := h.wan.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		slog.Error("beginning registration", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.regSessions[user.User().ID] = session
	h.mu.Unlock()

	writeJSON(w, creation)
}

// handleFinishRegistration completes passkey registration.
func (h *passkeyHandlers) handleFinishRegistration(w http.ResponseWriter, r *http.Request) {
	user, err := h.passkeyUser(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	session, ok := h.regSessions[user.User().ID]
	delete(h.regSessions, user.User().ID)
	h.mu.Unlock()

	if !ok {
		http.Error(w, "No registration in progress", http.StatusBadRequest)
		return
	}

	credential, err := h.wan.FinishRegistration(user, *session, r)
	if err != nil {
		slog.Error("finishing registration", "err", err)
		http.Error(w, "Registration failed", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "Passkey"
	}

	if err := h.passkeys.Save(user.User().Email, name, credential); err != nil {
		slog.Error("saving credential", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("passkey registered", "email", user.User().Email, "name", name)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleBeginLogin starts a discoverable passkey login.
func (h *passkeyHandlers) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	assertion, session, err := h.wan.BeginDiscoverableLogin()
	if err != nil {
		slog.Error("beginning passkey login", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.loginSessions[session.Challenge] = session
	h.mu.Unlock()

	writeJSON(w, assertion)
}

// handleFinishLogin completes passkey login and creates a session.
func (h *passkeyHandlers) handleFinishLogin(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialRequestResponse(r)
	if err != nil {
		http.Error(w, "Login failed", http.StatusBadRequest)
		return
	}

	challenge := parsed.Response.CollectedClientData.Challenge
	h.mu.Lock()
	session, ok := h.loginSessions[challenge]
	delete(h.loginSessions, challenge)
	h.mu.Unlock()

	if !ok {
		http.Error(w, "No login in progress", http.StatusBadRequest)
		return
	}

	// The user handle is the account's WebAuthn ID, which is its user ID.
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		u, err := h.users.GetByID(string(userHandle))
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				return nil, protocol.ErrBadRequest.WithDetails("unknown user")
			}
			return nil, err
		}
		creds, err := h.passkeys.WebAuthnCredentials(u.Email)
		if err != nil {
			return nil, err
		}
		return auth.NewPasskeyUser(u, creds), nil
	}

	wu, credential, err := h.wan.ValidatePasskeyLogin(handler, *session, parsed)
	if err != nil {
		slog.Warn("passkey login failed", "err", err)
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	pu, ok := wu.(*auth.PasskeyUser)
	if !ok {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	u := pu.User()

	if err := h.passkeys.Update(u.Email, credential); err != nil {
		slog.Warn("updating passkey sign count", "email", u.Email, "err", err)
	}

	sess, err := h.startSession(w, r, u.Email)
	if err != nil {
		slog.Error("creating session", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("login success", "email", u.Email, "method", "passkey")
	h.board.Post(sess.ID, advisory.SignedIn(u.Label()))
	writeJSON(w, map[string]string{"status": "ok"})
}

// handlePasskeyDelete removes one of the caller's passkeys.
func (s *Server) handlePasskeyDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, _ := auth.IdentityFrom(r.Context())

	credID := r.FormValue("id")
	if credID == "" {
		http.Error(w, "Missing credential ID", http.StatusBadRequest)
		return
	}

	if err := s.passkeys.Delete(credID, id.Email); err != nil {
		if errors.Is(err, auth.ErrCredentialNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("deleting passkey", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.board.Post(id.SessionID, advisory.Advisory{Kind: advisory.Info, Message: "Passkey removed.", Transient: true})
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "err", err)
	}
}
