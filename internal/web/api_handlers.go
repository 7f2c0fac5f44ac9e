package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/client"
	"github.com/evcraddock/street-kams/internal/export"
	"github.com/evcraddock/street-kams/internal/visit"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// apiError writes a JSON error response.
func apiError(w http.ResponseWriter, msg string, code int) {
	apiJSON(w, map[string]string{"error": msg}, code)
}

// apiJSON writes a JSON response with the given status code.
func apiJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "err", err)
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// validationResponse is the 422 body for an unmet submission rule.
type validationResponse struct {
	Error    string         `json:"error"`
	Category visit.Category `json:"category"`
	Fields   []string       `json:"fields,omitempty"`
}

// apiLogin exchanges email and password for a new API key.
func (s *Server) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req client.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		apiError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	u, err := s.users.Authenticate(req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Error("authenticating", "email", req.Email, "err", err)
		}
		apiError(w, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	name := strings.TrimSpace(req.KeyName)
	if name == "" {
		name = "kams CLI"
	}
	raw, _, err := s.apiKeys.Create(u.Email, name)
	if err != nil {
		slog.Error("creating api key", "email", u.Email, "err", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("login success", "email", u.Email, "method", "api")
	apiJSON(w, client.LoginResponse{Key: raw, User: u}, http.StatusCreated)
}

// apiLogout revokes the API key the request was made with.
func (s *Server) apiLogout(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.apiKeys.Revoke(key); err != nil {
		slog.Error("revoking api key", "err", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiMe describes the caller.
func (s *Server) apiMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	u, err := s.users.GetByID(id.UserID)
	if err != nil {
		apiError(w, "account not found", http.StatusUnauthorized)
		return
	}
	apiJSON(w, client.Me{ID: u.ID, Email: u.Email, Name: u.Name, Admin: s.admins.Eligible(u.Email)}, http.StatusOK)
}

// apiSchema returns the survey schema visits are recorded with.
func (s *Server) apiSchema(w http.ResponseWriter, r *http.Request) {
	apiJSON(w, s.schema, http.StatusOK)
}

// apiListVisits returns the caller's visits, newest first.
func (s *Server) apiListVisits(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	visits, err := s.visits.ListByOwner(r.Context(), id.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing visits", "owner", id.UserID, "err", err)
		apiError(w, advisory.MsgHistoryFailed, http.StatusInternalServerError)
		return
	}
	writeVisits(w, visits)
}

// apiAdminVisits returns every owner's visits. RequireAdmin guards the route.
func (s *Server) apiAdminVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := s.visits.ListAll(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "listing all visits", "err", err)
		apiError(w, advisory.MsgHistoryFailed, http.StatusInternalServerError)
		return
	}
	writeVisits(w, visits)
}

func writeVisits(w http.ResponseWriter, visits []*visit.Visit) {
	if visits == nil {
		visits = []*visit.Visit{}
	}
	visit.SortByRecordedDesc(visits)
	apiJSON(w, visits, http.StatusOK)
}

// apiSubmitVisit records a visit from a complete draft. The client resolves
// the check-in location itself and sends the resulting fact.
func (s *Server) apiSubmitVisit(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req client.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		apiError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	form, err := visit.FormFromDraft(s.schema, req.Draft, req.Location)
	if err != nil {
		apiError(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := s.submitter.Submit(r.Context(), form, &visit.Owner{ID: id.UserID, Label: id.Email})
	var verr *visit.ValidationError
	var perr *visit.PersistenceError
	switch {
	case errors.As(err, &verr):
		apiJSON(w, validationResponse{Error: verr.Error(), Category: verr.Category, Fields: verr.Fields}, http.StatusUnprocessableEntity)
	case errors.As(err, &perr):
		apiError(w, advisory.MsgPersistence, http.StatusServiceUnavailable)
	case err != nil:
		apiError(w, err.Error(), http.StatusBadRequest)
	default:
		apiJSON(w, v, http.StatusCreated)
	}
}

// apiExport runs the caller's export. The response body is the save step:
// the CSV travels back in Data and the client writes it to disk. An empty
// history returns zero rows and no data.
func (s *Server) apiExport(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	ctx := r.Context()

	visits, err := s.visits.ListByOwner(ctx, id.UserID)
	if err != nil {
		slog.ErrorContext(ctx, "loading visits for export", "owner", id.UserID, "err", err)
		apiError(w, advisory.MsgHistoryFailed, http.StatusInternalServerError)
		return
	}
	visit.SortByRecordedDesc(visits)

	var resp client.ExportResponse
	saver := export.SaverFunc(func(_ context.Context, name string, data []byte) error {
		resp.FileName = name
		resp.Data = data
		return nil
	})

	res, err := s.exporter.Export(ctx, visit.Owner{ID: id.UserID, Label: id.Email}, visits, saver)
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		apiJSON(w, resp, http.StatusOK)
		return
	case err != nil:
		slog.ErrorContext(ctx, "exporting", "owner", id.UserID, "err", err)
		apiError(w, "export failed", http.StatusInternalServerError)
		return
	}

	resp.Rows = res.Rows
	resp.Key = res.Key
	resp.URL = res.URL
	if res.UploadErr != nil {
		resp.UploadError = res.UploadErr.Error()
	}
	apiJSON(w, resp, http.StatusOK)
}
