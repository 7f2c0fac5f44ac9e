package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/blob"
	"github.com/evcraddock/street-kams/internal/export"
	"github.com/evcraddock/street-kams/internal/visit"
)

type historyView struct {
	page
	Visits []*visit.Visit
	Schema *visit.Schema
	// Failed is set when the list could not be loaded.
	Failed        bool
	LastExport    *export.Entry
	LastExportURL string
}

// adminRow is one line of the all-owners table.
type adminRow struct {
	Date       string
	KAM        string
	Zone       string
	BrandID    string
	Restaurant string
	Extra      []string
}

type adminView struct {
	page
	Headers []string
	Rows    []adminRow
	Failed  bool
}

// handleHistory renders the signed-in user's visits. The list is kept current
// by the /live/ bridge once the page is open.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	view := historyView{page: s.newPage(r, "My visits", "history"), Schema: s.schema}

	visits, err := s.visits.ListByOwner(r.Context(), id.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "loading history", "owner", id.UserID, "err", err)
		view.Failed = true
		a := advisory.Advisory{Kind: advisory.Error, Message: advisory.MsgHistoryFailed}
		view.Advisory = &a
	} else {
		visit.SortByRecordedDesc(visits)
		view.Visits = visits
	}

	view.LastExport, view.LastExportURL = s.lastExport(r.Context(), id.UserID)
	s.render(w, "history.html", view)
}

// lastExport returns the newest uploaded export and a fresh retrieval URL.
func (s *Server) lastExport(ctx context.Context, ownerID string) (*export.Entry, string) {
	entry, err := s.exports.LatestUploaded(ctx, ownerID)
	if err != nil {
		slog.WarnContext(ctx, "loading export log", "owner", ownerID, "err", err)
		return nil, ""
	}
	if entry == nil || s.blobs == nil {
		return entry, ""
	}
	url, err := s.blobs.URL(ctx, entry.Key)
	if err != nil {
		slog.WarnContext(ctx, "signing export url", "key", entry.Key, "err", err)
		return entry, ""
	}
	return entry, url
}

// handleHistoryExport sends the caller's visits as a CSV download, then
// uploads the same bytes to blob storage. The outcome of the upload is
// delivered as an advisory over /live/, or on the next page load.
func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	ctx := r.Context()

	visits, err := s.visits.ListByOwner(ctx, id.UserID)
	if err != nil {
		slog.ErrorContext(ctx, "loading visits for export", "owner", id.UserID, "err", err)
		s.board.Post(id.SessionID, advisory.Advisory{Kind: advisory.Error, Message: advisory.MsgHistoryFailed})
		http.Redirect(w, r, "/history", http.StatusSeeOther)
		return
	}
	visit.SortByRecordedDesc(visits)

	saver := export.SaverFunc(func(_ context.Context, name string, data []byte) error {
		w.Header().Set("Content-Type", export.ContentType+"; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if _, err := w.Write(data); err != nil {
			return err
		}
		// Let the browser finish the download while the upload runs.
		_ = http.NewResponseController(w).Flush()
		return nil
	})

	owner := visit.Owner{ID: id.UserID, Label: id.Email}
	res, err := s.exporter.Export(ctx, owner, visits, saver)
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		s.board.Post(id.SessionID, advisory.FromError(err))
		http.Redirect(w, r, "/history", http.StatusSeeOther)
	case err != nil:
		// The download itself failed; there is no response left to write to.
		slog.WarnContext(ctx, "export download failed", "owner", id.UserID, "err", err)
	default:
		s.notify(id.SessionID, advisory.Exported(res))
	}
}

// handleAdmin renders every owner's visits. RequireAdmin guards the route.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	view := adminView{page: s.newPage(r, "All visits", "admin"), Headers: adminHeaders(s.schema)}

	visits, err := s.visits.ListAll(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "loading all visits", "err", err)
		view.Failed = true
		a := advisory.Advisory{Kind: advisory.Error, Message: advisory.MsgHistoryFailed}
		view.Advisory = &a
	} else {
		visit.SortByRecordedDesc(visits)
		view.Rows = adminRows(s.schema, visits)
	}
	s.render(w, "admin.html", view)
}

// adminExtra lists the schema-specific admin columns as survey field names.
// An empty name stands for the campaigns column.
func adminExtra(schema *visit.Schema) []string {
	if schema.HasCampaigns() {
		return []string{"", "adsStatus", "outcome"}
	}
	return []string{"mdStandard", "mdPro", "topOperatorLevel"}
}

func adminHeaders(schema *visit.Schema) []string {
	headers := []string{"Fecha", "KAM", "Zona", "Brand ID", "Restaurante"}
	for _, name := range adminExtra(schema) {
		if name == "" {
			headers = append(headers, schema.CampaignsColumn)
			continue
		}
		f, _ := schema.Field(name)
		headers = append(headers, f.Column)
	}
	return headers
}

func adminRows(schema *visit.Schema, visits []*visit.Visit) []adminRow {
	extra := adminExtra(schema)
	rows := make([]adminRow, len(visits))
	for i, v := range visits {
		row := adminRow{
			Date:       tmplWhen(v.RecordedAt),
			KAM:        tmplOrNA(v.OwnerLabel),
			Zone:       v.Zone,
			BrandID:    v.BrandID,
			Restaurant: v.RestaurantName,
		}
		for _, name := range extra {
			value := v.Answer(name)
			if name == "" {
				value = strings.Join(v.Campaigns, ", ")
			}
			row.Extra = append(row.Extra, tmplOrNA(value))
		}
		rows[i] = row
	}
	return rows
}

// handleBlob serves a locally stored export behind a signed link.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		http.NotFound(w, r)
		return
	}

	key, file, err := s.downloads.Resolve(r.PathValue("token"))
	if err != nil {
		if errors.Is(err, blob.ErrInvalidToken) {
			http.Error(w, "Link expired or invalid", http.StatusForbidden)
			return
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", export.ContentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	http.ServeFile(w, r, file)
}
