package web

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/visit"
)

// page is the data every full page shares.
type page struct {
	Title    string
	Active   string // nav item: "form", "history", "admin" or "settings"
	Identity *auth.Identity
	IsAdmin  bool
	Advisory *advisory.Advisory
}

type formView struct {
	page
	Schema     *visit.Schema
	Blocks     []visit.Block
	State      visit.State
	Zones      []string
	VisitTypes []visit.VisitType
}

// newPage fills the shared page data and takes any pending advisory.
func (s *Server) newPage(r *http.Request, title, active string) page {
	p := page{Title: title, Active: active}
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		p.Identity = id
		p.IsAdmin = s.admins.Eligible(id.Email)
		if a, ok := s.board.Take(id.SessionID); ok {
			p.Advisory = &a
		}
	}
	return p
}

func (s *Server) formView(r *http.Request, form *visit.Form) formView {
	return formView{
		page:       s.newPage(r, "New visit", "form"),
		Schema:     s.schema,
		Blocks:     s.schema.Blocks(),
		State:      form.State(),
		Zones:      visit.Zones,
		VisitTypes: visit.ValidTypes,
	}
}

// currentForm returns the draft form of the signed-in session.
func (s *Server) currentForm(r *http.Request) (*auth.Identity, *visit.Form) {
	id, _ := auth.IdentityFrom(r.Context())
	return id, s.forms.get(id.SessionID)
}

// handleForm renders the visit form.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	_, form := s.currentForm(r)
	s.render(w, "form.html", s.formView(r, form))
}

// handleFormField sets one draft field.
func (s *Server) handleFormField(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, form := s.currentForm(r)

	name := r.FormValue("name")
	if name == "" {
		http.Error(w, "Field name is required", http.StatusBadRequest)
		return
	}
	if err := form.SetField(name, r.FormValue("value")); err != nil {
		s.respondForm(w, r, id, form, advisory.FromError(err))
		return
	}
	s.respondForm(w, r, id, form, advisory.Advisory{})
}

// handleFormToggle adds or removes a campaign.
func (s *Server) handleFormToggle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, form := s.currentForm(r)

	var a advisory.Advisory
	if err := form.Toggle(r.FormValue("campaign")); err != nil {
		a = advisory.FromError(err)
	}
	s.respondForm(w, r, id, form, a)
}

// handleFormCheckIn stores the position the browser reported. The browser
// posts lat/lon, or code with a navigator.geolocation error code, or
// unsupported=1 when it has no geolocation at all.
func (s *Server) handleFormCheckIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, form := s.currentForm(r)

	res, err := form.CheckIn(r.Context(), s.resolver, reportedSource(r))
	if err != nil {
		s.respondForm(w, r, id, form, advisory.FromError(err))
		return
	}
	if res.Err != nil {
		slog.InfoContext(r.Context(), "check-in used simulated location", "email", id.Email, "cause", res.Err)
	}
	s.respondForm(w, r, id, form, advisory.CheckIn(res))
}

// reportedSource turns the check-in post into a position source. It returns
// nil when the browser has no geolocation capability.
func reportedSource(r *http.Request) geo.PositionSource {
	if r.FormValue("unsupported") == "1" {
		return nil
	}
	if code := r.FormValue("code"); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil || n == 0 {
			n = geo.CodePositionUnavailable
		}
		return geo.Reported{ErrorCode: n, Message: r.FormValue("message")}
	}

	lat, latErr := strconv.ParseFloat(r.FormValue("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.FormValue("lon"), 64)
	if latErr != nil || lonErr != nil {
		return geo.Reported{ErrorCode: geo.CodePositionUnavailable, Message: "malformed coordinates"}
	}
	return geo.Reported{Lat: lat, Lon: lon}
}

// handleFormSubmit records the draft as a visit.
func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	id, form := s.currentForm(r)

	owner := &visit.Owner{ID: id.UserID, Label: id.Email}
	if _, err := s.submitter.Submit(r.Context(), form, owner); err != nil {
		s.respondForm(w, r, id, form, advisory.FromError(err))
		return
	}
	s.respondForm(w, r, id, form, advisory.Submitted())
}

// handleFormReset discards the draft.
func (s *Server) handleFormReset(w http.ResponseWriter, r *http.Request) {
	id, form := s.currentForm(r)
	form.Reset()
	s.respondForm(w, r, id, form, advisory.Advisory{})
}

// respondForm re-renders the form partial for HTMX requests, or posts the
// advisory and redirects back to the form otherwise. A zero advisory shows
// nothing.
func (s *Server) respondForm(w http.ResponseWriter, r *http.Request, id *auth.Identity, form *visit.Form, a advisory.Advisory) {
	if !isHTMX(r) {
		if a.Message != "" {
			s.board.Post(id.SessionID, a)
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	view := s.formView(r, form)
	if a.Message != "" {
		view.Advisory = &a
	}
	s.renderPartial(w, "form-partial", view)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// render executes a full page template with layout.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, name, data, http.StatusOK)
}

// renderStatus renders into a buffer first so a template error never leaves a
// half-written page behind.
func (s *Server) renderStatus(w http.ResponseWriter, name string, data any, code int) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("rendering template", "template", name, "err", err)
		http.Error(w, fmt.Sprintf("Error rendering template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("writing page", "template", name, "err", err)
	}
}

// renderPartial executes a named template block (no layout).
func (s *Server) renderPartial(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, name, data, http.StatusOK)
}

// renderString executes a named template block into a string.
func (s *Server) renderString(name string, data any) (string, error) {
	var sb strings.Builder
	if err := s.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return sb.String(), nil
}
