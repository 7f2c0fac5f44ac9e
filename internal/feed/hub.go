// Package feed keeps live, cancellable views of stored visits. Every change
// to a watched owner triggers a full reload, delivered as a Snapshot that
// replaces the subscriber's whole set.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evcraddock/street-kams/internal/visit"
)

// Query selects which visits a subscription watches.
type Query struct {
	OwnerID   string
	AllOwners bool
}

func (q Query) matches(ownerID string) bool {
	return q.AllOwners || q.OwnerID == ownerID
}

// Snapshot is the full current set of visits matching a query, or the error
// that prevented loading it.
type Snapshot struct {
	Visits []*visit.Visit
	Err    error
	At     time.Time
}

// Hub fans visit changes out to subscriptions.
type Hub struct {
	store visit.Store

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub reading from store.
func NewHub(store visit.Store) *Hub {
	return &Hub{store: store, subs: make(map[*Subscription]struct{})}
}

// Subscribe starts watching q. The first snapshot is delivered immediately;
// later ones follow every VisitCreated for a matching owner. The subscription
// ends when ctx is done, Cancel is called, or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if !q.AllOwners && q.OwnerID == "" {
		return nil, fmt.Errorf("subscribing: owner is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		query:   q,
		updates: make(chan Snapshot),
		notify:  make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("subscribing: hub closed")
	}
	h.subs[sub] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	go h.run(ctx, sub)
	return sub, nil
}

// VisitCreated wakes every subscription watching ownerID. Wakes coalesce:
// a subscription that is still reloading picks the change up on its next load.
func (h *Hub) VisitCreated(ownerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.query.matches(ownerID) {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and waits for their goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for sub := range h.subs {
		sub.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) run(ctx context.Context, sub *Subscription) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.updates)
		close(sub.done)
	}()

	for {
		snap := h.load(ctx, sub.query)
		if ctx.Err() != nil {
			return
		}
		select {
		case sub.updates <- snap:
		case <-ctx.Done():
			return
		}

		select {
		case <-sub.notify:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) load(ctx context.Context, q Query) Snapshot {
	var (
		visits []*visit.Visit
		err    error
	)
	if q.AllOwners {
		visits, err = h.store.ListAll(ctx)
	} else {
		visits, err = h.store.ListByOwner(ctx, q.OwnerID)
	}
	if err != nil && ctx.Err() == nil {
		slog.Warn("loading visit snapshot", "owner", q.OwnerID, "all", q.AllOwners, "error", err)
	}
	return Snapshot{Visits: visits, Err: err, At: time.Now()}
}

// Subscription is a live stream of snapshots.
type Subscription struct {
	query   Query
	updates chan Snapshot
	notify  chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Query returns what the subscription watches.
func (s *Subscription) Query() Query { return s.query }

// Updates delivers snapshots until the subscription ends, then is closed.
func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }
