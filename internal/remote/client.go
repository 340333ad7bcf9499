package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lei/simple-apply/pkg/logger"
)

// Client handles HTTP communication with the application service API.
// All typed surfaces (Runs, Jobs, Resumes, Prefs, Search) share one client
// so the 401 refresh-and-retry discipline lives in exactly one place.
type Client struct {
	baseURL          string
	tokens           TokenStore
	httpClient       *http.Client
	logger           *logger.Logger
	onSessionExpired func()
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used in tests)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSessionExpiredHandler registers a callback invoked after a repeated
// 401 invalidates the session (tokens are cleared before it fires)
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// NewClient creates an API client for the remote application service
func NewClient(baseURL string, tokens TokenStore, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Runs returns the run API surface
func (c *Client) Runs() *Runs { return &Runs{c: c} }

// Jobs returns the tracked-applications API surface
func (c *Client) Jobs() *Jobs { return &Jobs{c: c} }

// Resumes returns the resume API surface
func (c *Client) Resumes() *Resumes { return &Resumes{c: c} }

// Prefs returns the auto-apply preferences API surface
func (c *Client) Prefs() *Prefs { return &Prefs{c: c} }

// Search returns the job-search API surface
func (c *Client) Search() *Search { return &Search{c: c} }

// do performs an authenticated request, decoding the JSON response into out
// (out may be nil). A 401 triggers exactly one refresh-and-retry; a second
// 401 clears the tokens and invalidates the session.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	c.logger.Debug("remote: http request", "method", method, "path", path)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		c.logger.Error("remote: http request failed",
			"method", method, "path", path, "error", err)
		return &APIError{Message: "request failed", Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.logger.Info("remote: received 401, refreshing session and retrying",
			"method", method, "path", path)

		if err := c.refreshSession(ctx); err != nil {
			return err
		}

		resp, err = c.send(ctx, method, path, payload)
		if err != nil {
			c.logger.Error("remote: retry request failed",
				"method", method, "path", path, "error", err)
			return &APIError{Message: "request failed", Err: err}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			c.logger.Warn("remote: repeated 401, invalidating session",
				"method", method, "path", path)
			c.invalidateSession()
			return fmt.Errorf("authenticate %s %s: %w", method, path, ErrSessionExpired)
		}
	}
	defer resp.Body.Close()

	c.logger.Debug("remote: http response",
		"method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send builds and performs one request attempt with the current bearer token
func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	access, _ := c.tokens.Tokens()
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// refreshResponse is the token pair returned by the refresh endpoint
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refreshSession exchanges the refresh token for a new token pair.
// Failure here counts as the second auth failure: the session ends.
func (c *Client) refreshSession(ctx context.Context) error {
	_, refresh := c.tokens.Tokens()
	if refresh == "" {
		c.invalidateSession()
		return fmt.Errorf("no refresh token: %w", ErrSessionExpired)
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Message: "refresh failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.invalidateSession()
		return fmt.Errorf("refresh rejected with %d: %w", resp.StatusCode, ErrSessionExpired)
	}

	var tokens refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if err := c.tokens.SetTokens(tokens.AccessToken, tokens.RefreshToken); err != nil {
		return fmt.Errorf("store refreshed tokens: %w", err)
	}

	c.logger.Info("remote: session refreshed")
	return nil
}

// invalidateSession clears the tokens and notifies the owner
func (c *Client) invalidateSession() {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error("remote: failed to clear tokens", "error", err)
	}
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}
