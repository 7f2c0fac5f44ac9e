package web

import (
	"sync"

	"github.com/evcraddock/street-kams/internal/visit"
)

// formStore keeps one draft form per browser session. Drafts live in memory
// only and are dropped on sign-out.
type formStore struct {
	schema *visit.Schema

	mu    sync.Mutex
	forms map[string]*visit.Form
}

func newFormStore(schema *visit.Schema) *formStore {
	return &formStore{schema: schema, forms: make(map[string]*visit.Form)}
}

// get returns the session's form, creating an empty one on first use.
func (fs *formStore) get(sessionID string) *visit.Form {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.forms[sessionID]
	if !ok {
		f = visit.NewForm(fs.schema)
		fs.forms[sessionID] = f
	}
	return f
}

func (fs *formStore) drop(sessionID string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.forms, sessionID)
}

func (fs *formStore) len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.forms)
}
