package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	// ErrInvalidCredentials is returned for an unknown account and a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

// User is an account allowed to record visits.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Label returns the name shown next to the user's visits.
func (u *User) Label() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Name
}

// UserStore manages accounts in SQLite.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// dummyHash is compared against when the account does not exist so both
// failure paths cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("street-kams"), bcrypt.DefaultCost)
	return h
})

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Add creates an account with a bcrypt-hashed password.
func (s *UserStore) Add(email, name, password string) (*User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT INTO users (id, email, name, password_hash) VALUES (?, ?, ?, ?)",
		id, email, name, hash,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("adding user: %w", err)
	}

	return s.GetByID(id)
}

// Authenticate checks an email and password pair.
func (s *UserStore) Authenticate(email, password string) (*User, error) {
	var u User
	var hash string
	err := s.db.QueryRow(
		"SELECT id, email, name, created_at, password_hash FROM users WHERE email = ?",
		normalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// SetPassword replaces an account's password.
func (s *UserStore) SetPassword(email, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	result, err := s.db.Exec("UPDATE users SET password_hash = ? WHERE email = ?", hash, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireOneRow(result, ErrUserNotFound)
}

// List returns all accounts ordered by email.
func (s *UserStore) List() ([]*User, error) {
	rows, err := s.db.Query("SELECT id, email, name, created_at FROM users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			slog.Warn("closing rows", "err", cerr)
		}
	}()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, &u)
	}

	return users, rows.Err()
}

// GetByID returns an account by ID.
func (s *UserStore) GetByID(id string) (*User, error) {
	return s.get("id = ?", id)
}

// GetByEmail returns an account by email, case-insensitively.
func (s *UserStore) GetByEmail(email string) (*User, error) {
	return s.get("email = ?", normalizeEmail(email))
}

func (s *UserStore) get(where string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRow(
		"SELECT id, email, name, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// Delete removes an account along with its sessions, API keys and passkeys.
// Recorded visits are kept.
func (s *UserStore) Delete(email string) (err error) {
	email = normalizeEmail(email)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.Exec("DELETE FROM users WHERE email = ?", email)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if err := requireOneRow(result, ErrUserNotFound); err != nil {
		return err
	}

	for _, table := range []string{"sessions", "api_keys", "passkey_credentials"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE email = ?", email); err != nil {
			return fmt.Errorf("deleting %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func requireOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
