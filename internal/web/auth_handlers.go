package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
)

type loginView struct {
	page
	Email    string
	Passkeys bool
}

// handleLoginPage renders the sign-in form. Signed-in users go straight to
// the visit form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Lookup(r); err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	view := loginView{page: page{Title: "Sign in"}, Passkeys: s.cfg.BaseURL != ""}
	if r.URL.Query().Get("signed_out") == "1" {
		a := advisory.SignedOut()
		view.Advisory = &a
	}
	s.render(w, "login.html", view)
}

// handleLoginSubmit checks email and password and starts a session. Unknown
// accounts and wrong passwords get the same message.
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	view := loginView{page: page{Title: "Sign in"}, Email: email, Passkeys: s.cfg.BaseURL != ""}

	u, err := s.users.Authenticate(email, password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Error("authenticating", "email", email, "err", err)
		}
		slog.Warn("login failed", "email", email, "ip", r.RemoteAddr)
		view.Advisory = &advisory.Advisory{Kind: advisory.Error, Message: advisory.MsgBadLogin}
		s.renderStatus(w, "login.html", view, http.StatusUnauthorized)
		return
	}

	sess, err := s.startSession(w, r, u.Email)
	if err != nil {
		slog.Error("creating session", "email", u.Email, "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("login success", "email", u.Email, "method", "password")
	s.board.Post(sess.ID, advisory.SignedIn(u.Label()))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout destroys the session and everything bound to it: the draft,
// pending advisories and open live connections.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.sessions.Destroy(w, r)
	if err != nil && !errors.Is(err, auth.ErrNoSession) {
		slog.Error("destroying session", "err", err)
	}
	if sessionID != "" {
		s.endSession(sessionID)
	}

	if isHTMX(r) {
		w.Header().Set("HX-Redirect", "/login?signed_out=1")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/login?signed_out=1", http.StatusSeeOther)
}

// startSession creates a session for email. A session the browser already
// holds is destroyed first, so the previous identity's draft and live
// subscriptions do not outlive the switch.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, email string) (*auth.Session, error) {
	if old, err := s.sessions.Lookup(r); err == nil {
		if _, err := s.sessions.Destroy(w, r); err != nil {
			return nil, err
		}
		s.endSession(old.ID)
		slog.Info("replaced session", "previous", old.Email, "email", email)
	}
	return s.sessions.Create(w, email)
}

// endSession drops all server state held for a browser session.
func (s *Server) endSession(sessionID string) {
	s.live.cancel(sessionID)
	s.forms.drop(sessionID)
	s.board.Drop(sessionID)
}
