// Package advisory turns domain outcomes into user-visible messages.
package advisory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evcraddock/street-kams/internal/export"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/visit"
)

// TransientTTL is how long a transient advisory stays on screen.
const TransientTTL = 3500 * time.Millisecond

// Kind classifies an advisory for display.
type Kind string

const (
	Success Kind = "success"
	Info    Kind = "info"
	Warning Kind = "warning"
	Error   Kind = "error"
)

// Advisory is a single message shown to the user.
type Advisory struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Transient advisories dismiss themselves after TransientTTL.
	Transient bool `json:"transient"`
}

// TTLMillis returns the auto-dismiss delay, or 0 for standing advisories.
func (a Advisory) TTLMillis() int64 {
	if !a.Transient {
		return 0
	}
	return TransientTTL.Milliseconds()
}

// Messages shown for specific outcomes.
const (
	MsgSubmitted     = "Visit recorded."
	MsgSignedOut     = "Signed out."
	MsgBadLogin      = "Invalid email or password."
	MsgNothingExport = "There are no visits to export."
	MsgPersistence   = "Could not save the visit. Check your permissions and try again."
	MsgHistoryFailed = "Could not load visit history."
	MsgSignInFirst   = "You must sign in to record visits."
	MsgSubmitting    = "A visit is already being submitted."
	MsgCheckedIn     = "Location registered:"
)

// Submitted is raised after a visit is recorded.
func Submitted() Advisory {
	return Advisory{Kind: Success, Message: MsgSubmitted, Transient: true}
}

// SignedIn greets the account that just signed in.
func SignedIn(label string) Advisory {
	return Advisory{Kind: Success, Message: "Signed in as " + label + ".", Transient: true}
}

// SignedOut is raised after sign-out.
func SignedOut() Advisory {
	return Advisory{Kind: Info, Message: MsgSignedOut, Transient: true}
}

// CheckIn reports the result of a location check-in.
func CheckIn(r geo.Result) Advisory {
	if r.Warning != "" {
		return Advisory{Kind: Warning, Message: r.Warning}
	}
	return Advisory{Kind: Success, Message: MsgCheckedIn + " " + r.Fact.String(), Transient: true}
}

// Exported reports a finished export.
func Exported(r *export.Result) Advisory {
	if r.UploadErr != nil {
		return Advisory{
			Kind:    Warning,
			Message: fmt.Sprintf("Downloaded %s, but it could not be uploaded to storage.", r.FileName),
		}
	}
	return Advisory{
		Kind:      Success,
		Message:   fmt.Sprintf("Exported %d visits. A copy was stored at %s", r.Rows, r.Key),
		Transient: true,
	}
}

// FromError maps an error to the advisory shown for it.
func FromError(err error) Advisory {
	var verr *visit.ValidationError
	var perr *visit.PersistenceError
	var uerr *export.UploadError

	switch {
	case errors.As(err, &verr):
		return Advisory{Kind: Error, Message: verr.Error()}
	case errors.As(err, &perr):
		return Advisory{Kind: Error, Message: MsgPersistence}
	case errors.As(err, &uerr):
		return Advisory{Kind: Warning, Message: "The export was saved, but it could not be uploaded to storage."}
	case errors.Is(err, visit.ErrCampaignLimit):
		return Advisory{Kind: Warning, Message: "You can select at most 2 campaigns.", Transient: true}
	case errors.Is(err, visit.ErrSignInRequired):
		return Advisory{Kind: Error, Message: MsgSignInFirst}
	case errors.Is(err, visit.ErrSubmitInFlight):
		return Advisory{Kind: Info, Message: MsgSubmitting, Transient: true}
	case errors.Is(err, export.ErrNothingToExport):
		return Advisory{Kind: Info, Message: MsgNothingExport, Transient: true}
	case errors.Is(err, geo.ErrUnsupported):
		return Advisory{Kind: Warning, Message: "Geolocation is not supported on this device."}
	default:
		return Advisory{Kind: Error, Message: err.Error()}
	}
}

// Board holds one pending advisory per key, usually a session id. It is the
// flash store for the web UI.
type Board struct {
	mu      sync.Mutex
	pending map[string]Advisory
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{pending: make(map[string]Advisory)}
}

// Post replaces the pending advisory for key.
func (b *Board) Post(key string, a Advisory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[key] = a
}

// Take removes and returns the pending advisory for key.
func (b *Board) Take(key string) (Advisory, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.pending[key]
	delete(b.pending, key)
	return a, ok
}

// Drop discards any pending advisory for key.
func (b *Board) Drop(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, key)
}
