// Package client provides an HTTP client for the street-kams REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/evcraddock/street-kams/internal/auth"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/visit"
)

// ErrUnauthorized means the server rejected the API key.
var ErrUnauthorized = errors.New("not signed in or API key is no longer valid")

// Client is an HTTP client for the street-kams API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithKey returns a copy of c that authenticates with apiKey.
func (c *Client) WithKey(apiKey string) *Client {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

// APIKey returns the key the client sends.
func (c *Client) APIKey() string { return c.apiKey }

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	KeyName  string `json:"key_name,omitempty"`
}

// LoginResponse carries a freshly issued API key.
type LoginResponse struct {
	Key  string     `json:"key"`
	User *auth.User `json:"user"`
}

// Me describes the signed-in account.
type Me struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// SubmitRequest is the body of POST /api/visits.
type SubmitRequest struct {
	Draft    visit.Draft `json:"draft"`
	Location *geo.Fact   `json:"location,omitempty"`
}

// ExportResponse is the result of POST /api/exports. Data holds the CSV.
type ExportResponse struct {
	FileName    string `json:"file_name"`
	Rows        int    `json:"rows"`
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
	UploadError string `json:"upload_error,omitempty"`
	Data        []byte `json:"data"`
}

// Login exchanges credentials for a new API key.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the client's API key.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/api/auth/logout", struct{}{}, nil)
}

// Me returns the account the key belongs to.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	var me Me
	if err := c.get(ctx, "/api/me", &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Schema returns the survey schema the server records visits with.
func (c *Client) Schema(ctx context.Context) (*visit.Schema, error) {
	var s visit.Schema
	if err := c.get(ctx, "/api/schema", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListVisits returns the caller's visits, newest first.
func (c *Client) ListVisits(ctx context.Context) ([]*visit.Visit, error) {
	var visits []*visit.Visit
	if err := c.get(ctx, "/api/visits", &visits); err != nil {
		return nil, err
	}
	return visits, nil
}

// AdminVisits returns every owner's visits. Admins only.
func (c *Client) AdminVisits(ctx context.Context) ([]*visit.Visit, error) {
	var visits []*visit.Visit
	if err := c.get(ctx, "/api/admin/visits", &visits); err != nil {
		return nil, err
	}
	return visits, nil
}

// SubmitVisit records a visit. Rule violations come back as
// *visit.ValidationError.
func (c *Client) SubmitVisit(ctx context.Context, req SubmitRequest) (*visit.Visit, error) {
	var v visit.Visit
	if err := c.post(ctx, "/api/visits", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Export asks the server to export the caller's visits.
func (c *Client) Export(ctx context.Context) (*ExportResponse, error) {
	var resp ExportResponse
	if err := c.post(ctx, "/api/exports", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// get performs a GET request and decodes the response.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

// post performs a POST request with a JSON body and decodes the response.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

type errorResponse struct {
	Error    string         `json:"error"`
	Category visit.Category `json:"category,omitempty"`
	Fields   []string       `json:"fields,omitempty"`
}

// do executes an HTTP request with auth header and handles errors.
func (c *Client) do(req *http.Request, result any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("closing response body", "err", cerr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

func decodeError(status int, body []byte) error {
	var e errorResponse
	decoded := json.Unmarshal(body, &e) == nil && e.Error != ""

	switch {
	case e.Category != "":
		return &visit.ValidationError{Category: e.Category, Fields: e.Fields}
	case status == http.StatusUnauthorized && decoded && e.Error == auth.ErrInvalidCredentials.Error():
		return auth.ErrInvalidCredentials
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case decoded:
		return fmt.Errorf("%s", e.Error)
	default:
		return fmt.Errorf("server error: %s", http.StatusText(status))
	}
}
