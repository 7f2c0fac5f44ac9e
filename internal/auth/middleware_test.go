package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type authFixture struct {
	users    *UserStore
	sessions *SessionStore
	keys     *APIKeyStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	d := testDB(t)
	f := &authFixture{
		users:    NewUserStore(d),
		sessions: NewSessionStore(d, false),
		keys:     NewAPIKeyStore(d),
	}
	if _, err := f.users.Add("kam@example.com", "", "s3cret-pass"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	return f
}

// identityEcho responds 200 with the email from the request identity.
var identityEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id, ok := IdentityFrom(r.Context()); ok {
		_, _ = w.Write([]byte(id.Email))
	}
})

func TestRequireAuthRedirectsUnauthenticated(t *testing.T) {
	f := newAuthFixture(t)
	handler := RequireAuth(f.sessions, f.users, identityEcho)

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if w.Header().Get("Location") != "/login" {
		t.Errorf("location = %q, want /login", w.Header().Get("Location"))
	}
}

func TestRequireAuthHTMXRedirect(t *testing.T) {
	f := newAuthFixture(t)
	handler := RequireAuth(f.sessions, f.users, identityEcho)

	r := httptest.NewRequest("POST", "/form/field", nil)
	r.Header.Set("HX-Request", "true")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w.Header().Get("HX-Redirect") != "/login" {
		t.Errorf("HX-Redirect = %q, want /login", w.Header().Get("HX-Redirect"))
	}
}

func TestRequireAuthSetsIdentity(t *testing.T) {
	f := newAuthFixture(t)

	w := httptest.NewRecorder()
	if _, err := f.sessions.Create(w, "kam@example.com"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	handler := RequireAuth(f.sessions, f.users, identityEcho)
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(sessionCookie(t, w))
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r)

	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w2.Code, http.StatusOK)
	}
	if w2.Body.String() != "kam@example.com" {
		t.Errorf("identity = %q, want kam@example.com", w2.Body.String())
	}
}

func TestRequireAuthRejectsDeletedUser(t *testing.T) {
	f := newAuthFixture(t)

	w := httptest.NewRecorder()
	if _, err := f.sessions.Create(w, "ghost@example.com"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	handler := RequireAuth(f.sessions, f.users, identityEcho)
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(sessionCookie(t, w))
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r)

	if w2.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w2.Code, http.StatusSeeOther)
	}
}

func TestRequireAuthAllowsPublicPaths(t *testing.T) {
	f := newAuthFixture(t)
	handler := RequireAuth(f.sessions, f.users, identityEcho)

	publicPaths := []string{"/health", "/login", "/logout", "/static/style.css", "/blobs/abc", "/passkey/login/begin", "/api/visits"}
	for _, path := range publicPaths {
		t.Run(path, func(t *testing.T) {
			r := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d for %s", w.Code, http.StatusOK, path)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	f := newAuthFixture(t)
	raw, _, err := f.keys.Create("kam@example.com", "cli")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	handler := RequireAPIKey(f.keys, f.users, identityEcho)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid key", "/api/visits", "Bearer " + raw, http.StatusOK},
		{"missing header", "/api/visits", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/visits", "Basic " + raw, http.StatusUnauthorized},
		{"unknown key", "/api/visits", "Bearer kams_nope", http.StatusUnauthorized},
		{"public login", "/api/auth/login", "", http.StatusOK},
		{"non-api path", "/history", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireAPIKeyRateLimitsFailures(t *testing.T) {
	f := newAuthFixture(t)
	raw, _, err := f.keys.Create("kam@example.com", "cli")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	handler := RequireAPIKey(f.keys, f.users, identityEcho)

	do := func(key string) int {
		r := httptest.NewRequest("GET", "/api/visits", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		r.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	// Valid requests never count against the limit.
	for i := 0; i < rateLimitMaxFail*2; i++ {
		if code := do(raw); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, code)
		}
	}

	for i := 0; i < rateLimitMaxFail; i++ {
		if code := do("kams_bad"); code != http.StatusUnauthorized {
			t.Fatalf("failure %d: status = %d, want 401", i, code)
		}
	}
	if code := do(raw); code != http.StatusTooManyRequests {
		t.Errorf("status after %d failures = %d, want 429", rateLimitMaxFail, code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter()
	start := time.Now()
	rl.now = func() time.Time { return start }

	for i := 0; i < rateLimitMaxFail; i++ {
		rl.recordFailure("ip")
	}
	if !rl.limited("ip") {
		t.Fatal("expected ip to be limited")
	}

	rl.now = func() time.Time { return start.Add(rateLimitWindow + time.Second) }
	if rl.limited("ip") {
		t.Error("limit did not expire after the window")
	}
}

func TestRequireAdmin(t *testing.T) {
	admins := NewAdminList([]string{"admin@example.com"})
	handler := RequireAdmin(admins, identityEcho)

	tests := []struct {
		name string
		id   *Identity
		want int
	}{
		{"admin", &Identity{Email: "Admin@Example.com"}, http.StatusOK},
		{"lookalike", &Identity{Email: "admin@example.com.evil.com"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/admin/visits", nil)
			if tt.id != nil {
				r = r.WithContext(WithIdentity(r.Context(), tt.id))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
