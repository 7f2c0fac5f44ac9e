// Package web provides the HTTP server and handlers for the street-kams web UI
// and REST API.
package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/igm/sockjs-go/sockjs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/blob"
	"github.com/evcraddock/street-kams/internal/config"
	"github.com/evcraddock/street-kams/internal/export"
	"github.com/evcraddock/street-kams/internal/feed"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/logging"
	"github.com/evcraddock/street-kams/internal/visit"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// sessionSweepInterval is how often expired sessions are purged along with
// the drafts and advisories held for them.
var sessionSweepInterval = time.Hour

// Deps are the backends the server is built on.
type Deps struct {
	// DB holds accounts, sessions, keys and the export log.
	DB *sql.DB
	// Visits defaults to the SQLite repository on DB.
	Visits visit.Store
	// Blobs receives uploaded exports. Nil makes every upload fail, so
	// exports end in partial success.
	Blobs blob.Store
	// Downloads serves /blobs/ links when Blobs is a local directory.
	Downloads *blob.DirStore
}

// Server is the street-kams HTTP server.
type Server struct {
	cfg    config.Config
	schema *visit.Schema

	users    *auth.UserStore
	sessions *auth.SessionStore
	apiKeys  *auth.APIKeyStore
	passkeys *auth.PasskeyStore
	admins   auth.AdminList

	visits    visit.Store
	hub       *feed.Hub
	submitter *visit.Submitter
	resolver  *geo.Resolver
	exporter  *export.Exporter
	exports   *export.Log
	blobs     blob.Store
	downloads *blob.DirStore

	forms *formStore
	board *advisory.Board
	live  *liveRegistry

	templates *template.Template
	mux       *http.ServeMux
	handler   http.Handler

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// NewServer wires the stores, the live hub and the routes.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("creating server: database is required")
	}
	schema, err := visit.SchemaByName(cfg.FormSchema)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	store := deps.Visits
	if store == nil {
		store = visit.NewRepository(deps.DB)
	}
	hub := feed.NewHub(store)
	exports := export.NewLog(deps.DB)

	s := &Server{
		cfg:       cfg,
		schema:    schema,
		users:     auth.NewUserStore(deps.DB),
		sessions:  auth.NewSessionStore(deps.DB, !cfg.DevMode),
		apiKeys:   auth.NewAPIKeyStore(deps.DB),
		passkeys:  auth.NewPasskeyStore(deps.DB),
		admins:    auth.NewAdminList(cfg.AdminEmails),
		visits:    store,
		hub:       hub,
		submitter: visit.NewSubmitter(store, hub, cfg.AppID),
		resolver:  geo.NewResolver(),
		exporter:  export.NewExporter(schema, deps.Blobs, exports, cfg.AppID),
		exports:   exports,
		blobs:     deps.Blobs,
		downloads: deps.Downloads,
		forms:     newFormStore(schema),
		board:     advisory.NewBoard(),
		live:      newLiveRegistry(),
		templates: tmpl,
		mux:       http.NewServeMux(),
	}

	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("creating static sub-fs: %w", err)
	}
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))

	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Web UI
	s.mux.HandleFunc("GET /login", s.handleLoginPage)
	s.mux.HandleFunc("POST /login", s.handleLoginSubmit)
	s.mux.HandleFunc("/logout", s.handleLogout)
	s.mux.HandleFunc("GET /{$}", s.handleForm)
	s.mux.HandleFunc("POST /form/field", s.handleFormField)
	s.mux.HandleFunc("POST /form/toggle", s.handleFormToggle)
	s.mux.HandleFunc("POST /form/checkin", s.handleFormCheckIn)
	s.mux.HandleFunc("POST /form/submit", s.handleFormSubmit)
	s.mux.HandleFunc("POST /form/reset", s.handleFormReset)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("POST /history/export", s.handleHistoryExport)
	s.mux.Handle("GET /admin", auth.RequireAdmin(s.admins, http.HandlerFunc(s.handleAdmin)))
	s.mux.HandleFunc("GET /settings", s.handleSettings)
	s.mux.HandleFunc("POST /settings/keys", s.handleKeyCreate)
	s.mux.HandleFunc("POST /settings/keys/delete", s.handleKeyDelete)
	s.mux.HandleFunc("POST /settings/passkeys/delete", s.handlePasskeyDelete)
	s.mux.HandleFunc("GET /blobs/{token}", s.handleBlob)
	s.mux.Handle("/live/", sockjs.NewHandler("/live", sockjs.DefaultOptions, s.handleLive))

	// Passkey ceremonies need a relying party, which comes from the base URL.
	if cfg.BaseURL != "" {
		pk, err := newPasskeyHandlers(cfg.BaseURL, s.passkeys, s.users, s.board, s.startSession)
		if err != nil {
			return nil, fmt.Errorf("setting up passkeys: %w", err)
		}
		s.mux.HandleFunc("POST /passkey/register/begin", pk.handleBeginRegistration)
		s.mux.HandleFunc("POST /passkey/register/finish", pk.handleFinishRegistration)
		s.mux.HandleFunc("POST /passkey/login/begin", pk.handleBeginLogin)
		s.mux.HandleFunc("POST /passkey/login/finish", pk.handleFinishLogin)
	}

	// REST API
	s.mux.HandleFunc("POST /api/auth/login", s.apiLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.apiLogout)
	s.mux.HandleFunc("GET /api/me", s.apiMe)
	s.mux.HandleFunc("GET /api/schema", s.apiSchema)
	s.mux.HandleFunc("GET /api/visits", s.apiListVisits)
	s.mux.HandleFunc("POST /api/visits", s.apiSubmitVisit)
	s.mux.Handle("GET /api/admin/visits", auth.RequireAdmin(s.admins, http.HandlerFunc(s.apiAdminVisits)))
	s.mux.Handle("GET /api/admin/users", auth.RequireAdmin(s.admins, http.HandlerFunc(s.apiListUsers)))
	s.mux.Handle("POST /api/admin/users", auth.RequireAdmin(s.admins, http.HandlerFunc(s.apiAddUser)))
	s.mux.Handle("DELETE /api/admin/users/{email}", auth.RequireAdmin(s.admins, http.HandlerFunc(s.apiDeleteUser)))
	s.mux.HandleFunc("POST /api/exports", s.apiExport)
	s.mux.HandleFunc("GET /api/keys", s.apiListKeys)
	s.mux.HandleFunc("DELETE /api/keys/{id}", s.apiDeleteKey)

	var h http.Handler = s.mux
	h = auth.RequireAuth(s.sessions, s.users, h)
	h = auth.RequireAPIKey(s.apiKeys, s.users, h)
	h = logging.RequestLogger(h)
	s.handler = otelhttp.NewHandler(h, cfg.ServiceName)

	s.sessions.OnExpire(s.endSession)
	ctx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepSessions(ctx)

	slog.Info("web server ready", "schema", schema.Name, "admins", s.admins.Len(), "local_blobs", deps.Downloads != nil)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close ends every live subscription and stops the session sweeper.
func (s *Server) Close() {
	s.stopSweep()
	<-s.sweepDone
	s.live.cancelAll()
	s.hub.Close()
}

// sweepSessions purges expired sessions until ctx ends. Sessions that expire
// while their browser is away are otherwise never looked up again.
func (s *Server) sweepSessions(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.Cleanup()
			if err != nil {
				slog.Error("sweeping sessions", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

// handleHealth is a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apiJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

var funcMap = template.FuncMap{
	"coord":     tmplCoord,
	"when":      tmplWhen,
	"day":       func(t time.Time) string { return t.Local().Format("2006-01-02") },
	"orNA":      tmplOrNA,
	"join":      strings.Join,
	"ttl":       func(a *advisory.Advisory) int64 { return a.TTLMillis() },
	"typeLabel": func(t visit.VisitType) string { return t.Label() },
}

func tmplCoord(f *float64) string {
	if f == nil {
		return visit.NotApplicable
	}
	return strconv.FormatFloat(*f, 'f', 4, 64)
}

func tmplWhen(t *time.Time) string {
	if t == nil {
		return "pending"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func tmplOrNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return visit.NotApplicable
	}
	return s
}
