// Package session tracks who is signed in on a client and cancels work
// bound to an identity when that identity goes away.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/evcraddock/street-kams/internal/client"
)

// State is the client's sign-in state.
type State int

const (
	Unknown State = iota
	SignedOut
	SignedIn
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed out"
	case SignedIn:
		return "signed in"
	default:
		return "unknown"
	}
}

// KeyStore persists the API key between runs.
type KeyStore interface {
	LoadKey() (string, error)
	SaveKey(key string) error
}

// Controller owns the client's identity. It is safe for concurrent use.
type Controller struct {
	api  *client.Client
	keys KeyStore

	mu       sync.Mutex
	state    State
	identity *client.Me
	key      string
	scopes   map[int]context.CancelFunc
	nextID   int
	onChange func(State, *client.Me)
}

// New creates a controller in the Unknown state.
func New(api *client.Client, keys KeyStore) *Controller {
	return &Controller{api: api, keys: keys, scopes: make(map[int]context.CancelFunc)}
}

// OnChange registers fn to run after every state transition.
func (c *Controller) OnChange(fn func(State, *client.Me)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the signed-in account, or nil.
func (c *Controller) Identity() *client.Me {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Client returns an API client authenticated as the current identity.
func (c *Controller) Client() *client.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api.WithKey(c.key)
}

// Restore resolves the stored key. A missing or rejected key leaves the
// controller SignedOut; a transport failure leaves it Unknown.
func (c *Controller) Restore(ctx context.Context) (State, error) {
	key, err := c.keys.LoadKey()
	if err != nil {
		return c.State(), fmt.Errorf("loading API key: %w", err)
	}
	if key == "" {
		c.transition(SignedOut, nil, "")
		return SignedOut, nil
	}

	me, err := c.api.WithKey(key).Me(ctx)
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		if serr := c.keys.SaveKey(""); serr != nil {
			slog.Warn("clearing rejected API key", "err", serr)
		}
		c.transition(SignedOut, nil, "")
		return SignedOut, nil
	case err != nil:
		return c.State(), fmt.Errorf("restoring session: %w", err)
	}

	c.transition(SignedIn, me, key)
	return SignedIn, nil
}

// SignIn exchanges credentials for an API key and stores it. Failures leave
// the previous state untouched.
func (c *Controller) SignIn(ctx context.Context, email, password, keyName string) (*client.Me, error) {
	resp, err := c.api.WithKey("").Login(ctx, client.LoginRequest{Email: email, Password: password, KeyName: keyName})
	if err != nil {
		return nil, err
	}

	me, err := c.api.WithKey(resp.Key).Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if err := c.keys.SaveKey(resp.Key); err != nil {
		return nil, fmt.Errorf("saving API key: %w", err)
	}

	c.transition(SignedIn, me, resp.Key)
	return me, nil
}

// SignOut revokes the key on the server, forgets it locally and cancels every
// bound scope. The local sign-out happens even if the server call fails.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	var revokeErr error
	if key != "" {
		if err := c.api.WithKey(key).Logout(ctx); err != nil && !errors.Is(err, client.ErrUnauthorized) {
			revokeErr = fmt.Errorf("revoking API key: %w", err)
			slog.Warn("sign-out could not reach server", "err", err)
		}
	}
	if err := c.keys.SaveKey(""); err != nil {
		return fmt.Errorf("clearing API key: %w", err)
	}

	c.transition(SignedOut, nil, "")
	return revokeErr
}

// Bind ties cancel to the current identity. It runs on sign-out or when a
// different account signs in. The returned func unbinds without cancelling.
func (c *Controller) Bind(cancel context.CancelFunc) (unbind func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.scopes[id] = cancel
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.scopes, id)
	}
}

// Scope returns a context that is cancelled when the identity goes away.
func (c *Controller) Scope(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	unbind := c.Bind(cancel)
	return ctx, func() {
		unbind()
		cancel()
	}
}

func (c *Controller) transition(state State, me *client.Me, key string) {
	c.mu.Lock()
	changed := c.identity != nil && (me == nil || me.ID != c.identity.ID)
	var cancels []context.CancelFunc
	if changed {
		for id, cancel := range c.scopes {
			cancels = append(cancels, cancel)
			delete(c.scopes, id)
		}
	}
	c.state, c.identity, c.key = state, me, key
	fn := c.onChange
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if fn != nil {
		fn(state, me)
	}
}
