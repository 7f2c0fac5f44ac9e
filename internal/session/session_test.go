package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/client"
)

type memKeys struct {
	mu  sync.Mutex
	key string
}

func (m *memKeys) LoadKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key, nil
}

func (m *memKeys) SaveKey(k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = k
	return nil
}

// fakeAPI serves the auth endpoints for a fixed set of accounts.
type fakeAPI struct {
	mu      sync.Mutex
	keys    map[string]client.Me // api key -> account
	logouts int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{keys: map[string]client.Me{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		switch r.URL.Path {
		case "/api/auth/login":
			var req client.LoginRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Password != "s3cret-pass" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": auth.ErrInvalidCredentials.Error()})
				return
			}
			newKey := "kams_" + req.Email
			f.keys[newKey] = client.Me{ID: "id-" + req.Email, Email: req.Email}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(client.LoginResponse{Key: newKey})
		case "/api/me":
			me, ok := f.keys[key]
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid API key"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(me)
		case "/api/auth/logout":
			f.logouts++
			delete(f.keys, key)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestRestoreWithoutKey(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := New(client.New(srv.URL, ""), &memKeys{})

	if c.State() != Unknown {
		t.Fatalf("initial state = %v, want unknown", c.State())
	}
	state, err := c.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state != SignedOut {
		t.Errorf("state = %v, want signed out", state)
	}
}

func TestRestoreValidKey(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.keys["kams_saved"] = client.Me{ID: "u-1", Email: "kam@example.com"}

	c := New(client.New(srv.URL, ""), &memKeys{key: "kams_saved"})
	state, err := c.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state != SignedIn || c.Identity().Email != "kam@example.com" {
		t.Errorf("state = %v, identity = %+v", state, c.Identity())
	}
	if c.Client().APIKey() != "kams_saved" {
		t.Errorf("client key = %q", c.Client().APIKey())
	}
}

func TestRestoreRejectedKeyClearsIt(t *testing.T) {
	_, srv := newFakeAPI(t)
	keys := &memKeys{key: "kams_stale"}
	c := New(client.New(srv.URL, ""), keys)

	state, err := c.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state != SignedOut {
		t.Errorf("state = %v, want signed out", state)
	}
	if keys.key != "" {
		t.Errorf("stale key kept: %q", keys.key)
	}
}

func TestRestoreUnreachableStaysUnknown(t *testing.T) {
	_, srv := newFakeAPI(t)
	url := srv.URL
	srv.Close()

	c := New(client.New(url, ""), &memKeys{key: "kams_saved"})
	if _, err := c.Restore(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.State() != Unknown {
		t.Errorf("state = %v, want unknown", c.State())
	}
}

func TestSignInFailureIsGeneric(t *testing.T) {
	_, srv := newFakeAPI(t)
	keys := &memKeys{}
	c := New(client.New(srv.URL, ""), keys)

	_, err := c.SignIn(context.Background(), "kam@example.com", "wrong", "")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if c.State() != Unknown || keys.key != "" {
		t.Errorf("failed sign-in changed state: %v, key %q", c.State(), keys.key)
	}
}

func TestSignInAndSignOut(t *testing.T) {
	api, srv := newFakeAPI(t)
	keys := &memKeys{}
	c := New(client.New(srv.URL, ""), keys)

	var transitions []State
	c.OnChange(func(s State, _ *client.Me) { transitions = append(transitions, s) })

	me, err := c.SignIn(context.Background(), "kam@example.com", "s3cret-pass", "test")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if me.Email != "kam@example.com" || keys.key == "" {
		t.Fatalf("me = %+v, stored key %q", me, keys.key)
	}

	ctx, cancel := c.Scope(context.Background())
	defer cancel()

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if c.State() != SignedOut || c.Identity() != nil || keys.key != "" {
		t.Errorf("after sign-out: state %v identity %+v key %q", c.State(), c.Identity(), keys.key)
	}
	if api.logouts != 1 {
		t.Errorf("logouts = %d, want 1", api.logouts)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("bound scope not cancelled on sign-out")
	}

	want := []State{SignedIn, SignedOut}
	if len(transitions) != len(want) || transitions[0] != want[0] || transitions[1] != want[1] {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestIdentityChangeCancelsScopes(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := New(client.New(srv.URL, ""), &memKeys{})
	ctx := context.Background()

	if _, err := c.SignIn(ctx, "a@example.com", "s3cret-pass", ""); err != nil {
		t.Fatalf("sign in a: %v", err)
	}
	scoped, cancel := c.Scope(ctx)
	defer cancel()

	// Same account again keeps the scope.
	if _, err := c.SignIn(ctx, "a@example.com", "s3cret-pass", ""); err != nil {
		t.Fatalf("sign in a again: %v", err)
	}
	if scoped.Err() != nil {
		t.Fatal("scope cancelled by same-identity sign-in")
	}

	if _, err := c.SignIn(ctx, "b@example.com", "s3cret-pass", ""); err != nil {
		t.Fatalf("sign in b: %v", err)
	}
	if scoped.Err() == nil {
		t.Error("scope survived an identity change")
	}
}

func TestUnbindDoesNotCancel(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := New(client.New(srv.URL, ""), &memKeys{})
	if _, err := c.SignIn(context.Background(), "a@example.com", "s3cret-pass", ""); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	cancelled := false
	unbind := c.Bind(func() { cancelled = true })
	unbind()

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if cancelled {
		t.Error("unbound cancel func ran")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Unknown: "unknown", SignedOut: "signed out", SignedIn: "signed in"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
