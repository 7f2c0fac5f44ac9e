package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/igm/sockjs-go/sockjs"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/feed"
)

// Views a live connection can follow.
const (
	liveHistory = "history"
	liveAdmin   = "admin"
)

// sockjs close codes.
const (
	closeNormal       = 1000
	closeBadRequest   = 4000
	closeUnauthorized = 4001
	closeForbidden    = 4003
	closeUnavailable  = 4503
)

// liveRequest is the first frame a client sends.
type liveRequest struct {
	View string `json:"view"`
}

// liveMessage is pushed to the client. Snapshot messages carry the rendered
// list; advisory messages carry one advisory.
type liveMessage struct {
	Type     string             `json:"type"` // "snapshot" or "advisory"
	View     string             `json:"view,omitempty"`
	HTML     string             `json:"html,omitempty"`
	Count    int                `json:"count"`
	Advisory *advisory.Advisory `json:"advisory,omitempty"`
}

// liveConn is one open /live/ connection.
type liveConn struct {
	cancel context.CancelFunc
	send   func(string) error
}

// liveRegistry tracks open connections per browser session so sign-out can
// end them and advisories can reach them.
type liveRegistry struct {
	mu    sync.Mutex
	next  int
	conns map[string]map[int]*liveConn
}

func newLiveRegistry() *liveRegistry {
	return &liveRegistry{conns: make(map[string]map[int]*liveConn)}
}

// add registers c under sessionID and returns a func that removes it.
func (l *liveRegistry) add(sessionID string, c *liveConn) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	n := l.next
	if l.conns[sessionID] == nil {
		l.conns[sessionID] = make(map[int]*liveConn)
	}
	l.conns[sessionID][n] = c

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.conns[sessionID], n)
		if len(l.conns[sessionID]) == 0 {
			delete(l.conns, sessionID)
		}
	}
}

// push sends msg to every connection of sessionID and returns how many
// accepted it.
func (l *liveRegistry) push(sessionID, msg string) int {
	l.mu.Lock()
	conns := make([]*liveConn, 0, len(l.conns[sessionID]))
	for _, c := range l.conns[sessionID] {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if err := c.send(msg); err == nil {
			sent++
		}
	}
	return sent
}

// cancel ends every connection of sessionID.
func (l *liveRegistry) cancel(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns[sessionID] {
		c.cancel()
	}
}

func (l *liveRegistry) cancelAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conns := range l.conns {
		for _, c := range conns {
			c.cancel()
		}
	}
}

// len returns the number of open connections of sessionID.
func (l *liveRegistry) len(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns[sessionID])
}

// notify pushes a to the session's open pages, or keeps it for the next page
// load when none is open.
func (s *Server) notify(sessionID string, a advisory.Advisory) {
	data, err := json.Marshal(liveMessage{Type: "advisory", Advisory: &a})
	if err == nil && s.live.push(sessionID, string(data)) > 0 {
		return
	}
	s.board.Post(sessionID, a)
}

// handleLive bridges a feed subscription to a sockjs connection. The client
// names the view it shows in its first frame; every snapshot is then rendered
// server-side and pushed as HTML. Sign-out cancels the connection.
func (s *Server) handleLive(session sockjs.Session) {
	id, ok := auth.IdentityFrom(session.Request().Context())
	if !ok || id.SessionID == "" {
		_ = session.Close(closeUnauthorized, "not signed in")
		return
	}

	frame, err := session.Recv()
	if err != nil {
		return
	}
	var req liveRequest
	if err := json.Unmarshal([]byte(frame), &req); err != nil {
		_ = session.Close(closeBadRequest, "bad request")
		return
	}

	var q feed.Query
	switch req.View {
	case liveHistory:
		q = feed.Query{OwnerID: id.UserID}
	case liveAdmin:
		if !s.admins.Eligible(id.Email) {
			_ = session.Close(closeForbidden, "admin access required")
			return
		}
		q = feed.Query{AllOwners: true}
	default:
		_ = session.Close(closeBadRequest, "unknown view")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remove := s.live.add(id.SessionID, &liveConn{cancel: cancel, send: session.Send})
	defer remove()

	// Client frames after the first are ignored; a read error means it left.
	go func() {
		for {
			if _, err := session.Recv(); err != nil {
				cancel()
				return
			}
		}
	}()

	sub, err := s.hub.Subscribe(ctx, q)
	if err != nil {
		slog.Warn("live subscribe failed", "email", id.Email, "view", req.View, "err", err)
		_ = session.Close(closeUnavailable, "live updates unavailable")
		return
	}
	defer sub.Cancel()

	var proj feed.Projection
	proj.Follow(ctx, sub, func(snap feed.Snapshot) {
		msg, err := s.liveSnapshot(req.View, &proj, snap)
		if err != nil {
			slog.Error("rendering live snapshot", "view", req.View, "err", err)
			return
		}
		if err := session.Send(msg); err != nil {
			cancel()
		}
	})

	_ = session.Close(closeNormal, "closed")
}

// liveSnapshot renders the projection for view. A failed snapshot keeps the
// previous rows and adds the history advisory.
func (s *Server) liveSnapshot(view string, proj *feed.Projection, snap feed.Snapshot) (string, error) {
	visits := proj.Visits()
	msg := liveMessage{Type: "snapshot", View: view, Count: len(visits)}

	var (
		html string
		err  error
	)
	if view == liveAdmin {
		html, err = s.renderString("admin-rows", adminView{Headers: adminHeaders(s.schema), Rows: adminRows(s.schema, visits)})
	} else {
		html, err = s.renderString("visits-partial", historyView{Visits: visits, Schema: s.schema})
	}
	if err != nil {
		return "", err
	}
	msg.HTML = html

	if snap.Err != nil {
		a := advisory.Advisory{Kind: advisory.Error, Message: advisory.MsgHistoryFailed}
		msg.Advisory = &a
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
