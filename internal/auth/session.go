package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	sessionExpiry = 30 * 24 * time.Hour // 30 days
	cookieName    = "kams_session"
)

// ErrNoSession means the request carries no valid session.
var ErrNoSession = errors.New("no valid session")

// Session is a persisted sign-in.
type Session struct {
	ID        string
	Email     string
	ExpiresAt time.Time
}

// SessionStore manages sessions in SQLite.
type SessionStore struct {
	db       *sql.DB
	secure   bool
	now      func() time.Time
	onExpire func(id string)
}

// NewSessionStore creates a session store. secure marks cookies HTTPS-only.
func NewSessionStore(db *sql.DB, secure bool) *SessionStore {
	return &SessionStore{db: db, secure: secure, now: time.Now}
}

// OnExpire registers fn to run with the ID of every session removed because
// it expired. Call it before serving requests.
func (s *SessionStore) OnExpire(fn func(id string)) {
	s.onExpire = fn
}

func (s *SessionStore) expired(id string) {
	if s.onExpire != nil {
		s.onExpire(id)
	}
}

// Create generates a new session for the given email and sets the cookie.
func (s *SessionStore) Create(w http.ResponseWriter, email string) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session ID: %w", err)
	}

	sess := &Session{ID: id, Email: email, ExpiresAt: s.now().Add(sessionExpiry)}

	if _, err := s.db.Exec(
		"INSERT INTO sessions (id, email, expires_at) VALUES (?, ?, ?)",
		sess.ID, sess.Email, sess.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return sess, nil
}

// Lookup returns the session named by the request cookie.
func (s *SessionStore) Lookup(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, ErrNoSession
	}

	sess := Session{ID: cookie.Value}
	err = s.db.QueryRow(
		"SELECT email, expires_at FROM sessions WHERE id = ?",
		cookie.Value,
	).Scan(&sess.Email, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if s.now().After(sess.ExpiresAt) {
		if _, delErr := s.db.Exec("DELETE FROM sessions WHERE id = ?", sess.ID); delErr != nil {
			return nil, fmt.Errorf("deleting expired session: %w", delErr)
		}
		s.expired(sess.ID)
		return nil, fmt.Errorf("session expired: %w", ErrNoSession)
	}

	return &sess, nil
}

// Validate checks the session cookie and returns the email if valid.
func (s *SessionStore) Validate(r *http.Request) (string, error) {
	sess, err := s.Lookup(r)
	if err != nil {
		return "", err
	}
	return sess.Email, nil
}

// Destroy removes the session and clears the cookie. It returns the
// destroyed session ID, or "" when there was none.
func (s *SessionStore) Destroy(w http.ResponseWriter, r *http.Request) (string, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", nil
	}

	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", cookie.Value); err != nil {
		return "", fmt.Errorf("deleting session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return cookie.Value, nil
}

// Cleanup removes expired sessions and returns how many were removed.
func (s *SessionStore) Cleanup() (int, error) {
	now := s.now()
	rows, err := s.db.Query("SELECT id FROM sessions WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("listing expired sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scanning session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("listing expired sessions: %w", err)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("listing expired sessions: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
			return 0, fmt.Errorf("cleaning up sessions: %w", err)
		}
		s.expired(id)
	}
	return len(ids), nil
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
