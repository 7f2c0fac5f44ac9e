package feed

import (
	"context"
	"sync"

	"github.com/evcraddock/street-kams/internal/visit"
)

// Projection is a read-through view of the latest snapshot, sorted newest
// first. A failed snapshot keeps the previous set and records the error.
type Projection struct {
	mu     sync.RWMutex
	visits []*visit.Visit
	err    error
	loaded bool
}

// Apply replaces the working set with snap, or records snap.Err.
func (p *Projection) Apply(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Err != nil {
		p.err = snap.Err
		return
	}
	visits := append([]*visit.Visit(nil), snap.Visits...)
	visit.SortByRecordedDesc(visits)
	p.visits = visits
	p.err = nil
	p.loaded = true
}

// Visits returns the current set, newest first.
func (p *Projection) Visits() []*visit.Visit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*visit.Visit(nil), p.visits...)
}

// Err returns the error from the latest failed snapshot, cleared by the next
// good one.
func (p *Projection) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Loaded reports whether any snapshot has been applied.
func (p *Projection) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

// Clear drops the working set, as on sign-out.
func (p *Projection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits = nil
	p.err = nil
	p.loaded = false
}

// Follow applies every snapshot from sub until it ends or ctx is done,
// calling onChange after each one. onChange may be nil.
func (p *Projection) Follow(ctx context.Context, sub *Subscription, onChange func(Snapshot)) {
	for {
		select {
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			p.Apply(snap)
			if onChange != nil {
				onChange(snap)
			}
		case <-ctx.Done():
			return
		}
	}
}
