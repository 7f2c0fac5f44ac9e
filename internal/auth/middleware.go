package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RequireAuth is middleware that redirects unauthenticated web requests to
// the login page and stores the caller's Identity in the request context.
// API paths (/api/...) are handled separately by RequireAPIKey.
func RequireAuth(sessions *SessionStore, users *UserStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := sessions.Lookup(r)
		if err != nil {
			redirectToLogin(w, r)
			return
		}
		u, err := users.GetByEmail(sess.Email)
		if err != nil {
			slog.Warn("session for unknown user", "email", sess.Email, "err", err)
			redirectToLogin(w, r)
			return
		}

		id := &Identity{UserID: u.ID, Email: u.Email, SessionID: sess.ID}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/login")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// rateLimiter tracks failed API key attempts per IP.
type rateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{attempts: make(map[string][]time.Time), now: time.Now}
}

const (
	rateLimitWindow  = 1 * time.Minute
	rateLimitMaxFail = 10
)

// prune drops attempts outside the window. Callers hold mu.
func (rl *rateLimiter) prune(ip string) []time.Time {
	cutoff := rl.now().Add(-rateLimitWindow)
	valid := rl.attempts[ip][:0]
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(rl.attempts, ip)
		return nil
	}
	rl.attempts[ip] = valid
	return valid
}

// limited reports whether ip has too many recent failures.
func (rl *rateLimiter) limited(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.prune(ip)) >= rateLimitMaxFail
}

// recordFailure records a failed attempt.
func (rl *rateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.attempts[ip] = append(rl.prune(ip), rl.now())
}

// RequireAPIKey is middleware that validates Bearer token auth for /api/
// routes and stores the key owner's Identity in the request context.
// Non-API routes pass through untouched. Returns 401 for missing or invalid
// keys and 429 once an IP has failed too often.
func RequireAPIKey(apiKeys *APIKeyStore, users *UserStore, next http.Handler) http.Handler {
	limiter := newRateLimiter()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || isPublicAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if limiter.limited(ip) {
			jsonError(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		authHeader := r.Header.Get("Authorization")
		key, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || key == "" {
			jsonError(w, "authorization required", http.StatusUnauthorized)
			return
		}

		email, err := apiKeys.Validate(key)
		if err != nil {
			slog.Error("validating api key", "err", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		if email == "" {
			limiter.recordFailure(ip)
			jsonError(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		u, err := users.GetByEmail(email)
		if err != nil {
			limiter.recordFailure(ip)
			jsonError(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		id := &Identity{UserID: u.ID, Email: u.Email}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin rejects callers whose identity is not on the admin list.
// It must run after RequireAuth or RequireAPIKey.
func RequireAdmin(admins AdminList, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || !admins.Eligible(id.Email) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				jsonError(w, "admin access required", http.StatusForbidden)
				return
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func isPublicPath(path string) bool {
	switch path {
	case "/login", "/logout", "/health", "/passkey/login/begin", "/passkey/login/finish":
		return true
	}
	// Blob links carry their own signed token.
	return strings.HasPrefix(path, "/static/") || strings.HasPrefix(path, "/blobs/")
}

func isPublicAPIPath(path string) bool {
	return path == "/api/auth/login" || path == "/api/schema"
}
