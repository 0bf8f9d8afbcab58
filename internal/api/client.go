// Package api implements the HTTP client for the analytics server's
// administration API: session management, retries with exponential backoff,
// pagination, and typed operations for the endpoints the pipelines use.
package api

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

	"github.com/cenkalti/backoff/v4"

	"github.com/mbmove/mbmove/internal/logx"
)

// Credentials selects one of three session modes: username+password,
// a pre-issued session token, or a personal API key.
type Credentials struct {
	Username      string
	Password      string
	SessionToken  string
	PersonalToken string
}

func (c Credentials) validate() error {
	modes := 0
	if c.Username != "" || c.Password != "" {
		modes++
	}
	if c.SessionToken != "" {
		modes++
	}
	if c.PersonalToken != "" {
		modes++
	}
	if modes == 0 {
		return errors.New("no credentials provided: need username/password, a session token, or a personal token")
	}
	if modes > 1 {
		return errors.New("ambiguous credentials: provide exactly one of username/password, session token, or personal token")
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.New("username and password must be provided together")
	}
	return nil
}

// APIError is a non-2xx response from the server. The body is kept verbatim
// so the installer can classify known server messages.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("API error %d on %s: %s", e.Status, e.Path, body)
}

// Transient reports whether the request may succeed on retry.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

const retryMaxElapsed = 30 * time.Second

// Client talks to one instance. Not safe for concurrent use; both pipelines
// issue requests from a single goroutine.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	log     *logx.Logger

	sessionToken string
}

// New validates the credentials and returns a client. Session establishment
// for username/password happens lazily on the first request.
func New(baseURL string, creds Credentials, log *logx.Logger) (*Client, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logx.Discard()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		creds:        creds,
		http:         &http.Client{Timeout: 60 * time.Second},
		log:          log,
		sessionToken: creds.SessionToken,
	}, nil
}

// BaseURL returns the instance URL the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ensureSession logs in with username/password if no token is held yet.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.sessionToken != "" || c.creds.PersonalToken != "" {
		return nil
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := c.doOnce(ctx, http.MethodPost, "/api/session", nil, map[string]string{
		"username": c.creds.Username,
		"password": c.creds.Password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("session login failed: %w", err)
	}
	c.sessionToken = resp.ID
	c.log.Debugf("session established for %s", c.baseURL)
	return nil
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return backoff.WithContext(bo, ctx)
}

// do performs a request with session handling and retries on transient
// failures (network errors, 5xx, 429). Non-transient API errors are returned
// immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	op := func() error {
		err := c.doOnce(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			return backoff.Permanent(err)
		}
		c.log.Debugf("retrying %s %s after transient error: %v", method, path, err)
		return err
	}
	return backoff.Retry(op, newRetryBackoff(ctx))
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.PersonalToken != "" {
		req.Header.Set("X-Api-Key", c.creds.PersonalToken)
	} else if c.sessionToken != "" {
		req.Header.Set("X-Metabase-Session", c.sessionToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response for %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Path: path, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response for %s: %w", path, err)
		}
	}
	return nil
}
