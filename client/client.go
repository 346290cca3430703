// ABOUTME: HTTP client for the mdsession API used by the CLI and the watch TUI.
// ABOUTME: Implements reconcile.Source and streams chat turns through the SSE reader.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389-research/mdsession/analysis"
	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/reconcile"
	"github.com/2389-research/mdsession/stream"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

func statusIs(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one mdsession server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// StreamClient has no overall timeout so chat turns can run long.
	StreamClient *http.Client
}

// New returns a client for baseURL. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		StreamClient: &http.Client{},
	}
}

var _ reconcile.Source = (*Client)(nil)

// Session is one row of the session list.
type Session struct {
	SessionID        string    `json:"session_id"`
	WorkDir          string    `json:"work_dir"`
	Nickname         string    `json:"nickname"`
	RunStatus        string    `json:"run_status"`
	SelectedArtifact string    `json:"selected_artifact,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CreateRequest is the body of a session create call.
type CreateRequest struct {
	WorkDirTemplate string `json:"work_dir_template,omitempty"`
	Nickname        string `json:"nickname,omitempty"`
	Owner           string `json:"owner,omitempty"`
	Preset          string `json:"preset,omitempty"`
	System          string `json:"system,omitempty"`
	EngineTemplate  string `json:"engine_template,omitempty"`
}

// Created is the response to a session create call.
type Created struct {
	SessionID   string   `json:"session_id"`
	WorkDir     string   `json:"work_dir"`
	Nickname    string   `json:"nickname"`
	SeededFiles []string `json:"seeded_files"`
}

// Started is the response to a start call.
type Started struct {
	Status        string   `json:"status"`
	PID           int      `json:"pid"`
	ExpectedFiles []string `json:"expected_files"`
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, c.HTTPClient, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// send performs the request and converts non-2xx replies into *APIError.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func sessionPath(id string, rest ...string) string {
	p := "/api/sessions/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// ListSessions returns sessions newest first, filtered by owner when set.
func (c *Client) ListSessions(ctx context.Context, owner string) ([]Session, error) {
	path := "/api/sessions"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession creates a session.
func (c *Client) CreateSession(ctx context.Context, req CreateRequest) (Created, error) {
	var out Created
	err := c.do(ctx, http.MethodPost, "/api/sessions", req, &out)
	return out, err
}

// DeleteSession removes a session from the registry. Files stay on disk.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

// Rename changes a session's nickname.
func (c *Client) Rename(ctx context.Context, id, nickname string) error {
	return c.do(ctx, http.MethodPatch, sessionPath(id, "nickname"), map[string]string{"nickname": nickname}, nil)
}

// Start launches the session's simulation.
func (c *Client) Start(ctx context.Context, id string) (Started, error) {
	var out Started
	err := c.do(ctx, http.MethodPost, sessionPath(id, "simulate"), nil, &out)
	return out, err
}

// Stop terminates a running simulation. stopped is false when nothing ran.
func (c *Client) Stop(ctx context.Context, id string) (bool, error) {
	var out struct {
		Stopped bool `json:"stopped"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(id, "simulate", "stop"), nil, &out)
	return out.Stopped, err
}

// Status implements reconcile.Source.
func (c *Client) Status(ctx context.Context, id string) (reconcile.Status, error) {
	var out reconcile.Status
	err := c.do(ctx, http.MethodGet, sessionPath(id, "simulate", "status"), nil, &out)
	return out, err
}

// Progress implements reconcile.Source.
func (c *Client) Progress(ctx context.Context, id string) (progress.Result, error) {
	var out progress.Result
	err := c.do(ctx, http.MethodGet, sessionPath(id, "simulate", "progress"), nil, &out)
	return out, err
}

// Colvar reads a COLVAR file as named columns. An empty filename means COLVAR.
func (c *Client) Colvar(ctx context.Context, id, filename string) (analysis.ColvarResult, error) {
	var out analysis.ColvarResult
	err := c.do(ctx, http.MethodGet, sessionPath(id, "analysis", "colvar")+filenameQuery(filename), nil, &out)
	return out, err
}

// FES reads a sum_hills free energy surface. An empty filename means fes.dat.
func (c *Client) FES(ctx context.Context, id, filename string) (analysis.FESResult, error) {
	var out analysis.FESResult
	err := c.do(ctx, http.MethodGet, sessionPath(id, "analysis", "fes")+filenameQuery(filename), nil, &out)
	return out, err
}

func filenameQuery(name string) string {
	if name == "" {
		return ""
	}
	return "?" + url.Values{"filename": {name}}.Encode()
}

// Config returns the session's config tree.
func (c *Client) Config(ctx context.Context, id string) (map[string]any, error) {
	var out struct {
		Config map[string]any `json:"config"`
	}
	err := c.do(ctx, http.MethodGet, sessionPath(id, "config"), nil, &out)
	return out.Config, err
}

// UpdateConfig applies dotted-path updates. A running session answers 409.
func (c *Client) UpdateConfig(ctx context.Context, id string, updates map[string]any) (map[string]any, error) {
	var out struct {
		Config map[string]any `json:"config"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(id, "config"), map[string]any{"updates": updates}, &out)
	return out.Config, err
}

// Files lists the session's working directory.
func (c *Client) Files(ctx context.Context, id, pattern string) ([]string, error) {
	path := sessionPath(id, "files")
	if pattern != "" {
		path += "?pattern=" + url.QueryEscape(pattern)
	}
	var out struct {
		Files []string `json:"files"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Files, err
}

// Chat sends one message and calls fn for every streamed event until the
// turn ends. Cancelling ctx aborts the turn.
func (c *Client) Chat(ctx context.Context, id, message string, fn func(stream.Event) error) error {
	resp, err := c.send(ctx, c.StreamClient, http.MethodPost, sessionPath(id, "chat"), map[string]string{"message": message}, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return stream.ReadAll(resp.Body, fn)
}
