// Package apiclient talks to the inventory REST API on behalf of the
// dashboard session. Every authorized call carries the current access token;
// a 401 triggers at most one token refresh per originating request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"inventoryhub/dashboard/internal/auth"
)

const DefaultBaseURL = "http://localhost:5000/api"

const refreshTimeout = 30 * time.Second

// TokenSource is the part of the token store the client reads and rotates.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      TokenSource
	// OnSessionExpired runs after the store was cleared because a refresh
	// could not be completed.
	OnSessionExpired func(ctx context.Context, cause error)
	// CoalesceRefresh shares one in-flight refresh call between requests that
	// fail with 401 at the same time.
	CoalesceRefresh bool
	Logger          *slog.Logger
}

type Client struct {
	baseURL   string
	http      *http.Client
	store     TokenSource
	onExpired func(ctx context.Context, cause error)
	coalesce  bool
	log       *slog.Logger

	refreshGroup singleflight.Group
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", cfg.BaseURL)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		http:      httpClient,
		store:     cfg.Store,
		onExpired: cfg.OnSessionExpired,
		coalesce:  cfg.CoalesceRefresh,
		log:       logger,
	}, nil
}

// SetSessionExpiredHandler installs the hook after construction, for wiring
// where the handler owner itself depends on the client.
func (c *Client) SetSessionExpiredHandler(fn func(ctx context.Context, cause error)) {
	c.onExpired = fn
}

func (c *Client) BaseURL() string { return c.baseURL }

// request is one originating call. retried is its private at-most-once
// refresh marker.
type request struct {
	method  string
	path    string
	body    []byte
	retried bool
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do performs an authorized call and decodes a JSON response into out when
// out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	req := &request{method: method, path: path}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		req.body = b
	}

	token, err := c.store.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}
	err = c.send(ctx, req, token, out)
	if err == nil || !isStatus(err, http.StatusUnauthorized) || req.retried {
		return err
	}

	req.retried = true
	newToken, refreshErr := c.refresh(ctx)
	if refreshErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &auth.APIError{
			Kind:    auth.ErrUnauthorized,
			Status:  http.StatusUnauthorized,
			Message: "session expired, please log in again",
			URL:     c.url(path),
			Err:     refreshErr,
		}
	}
	return c.send(ctx, req, newToken, out)
}

// Login calls POST /auth/login without the refresh protocol. A 401 maps to
// ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, username, password string) (auth.LoginResult, error) {
	var res auth.LoginResult
	req := &request{method: http.MethodPost, path: "/auth/login"}
	b, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return auth.LoginResult{}, fmt.Errorf("encode login body: %w", err)
	}
	req.body = b

	if err := c.send(ctx, req, "", &res); err != nil {
		var apiErr *auth.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return auth.LoginResult{}, &auth.APIError{
				Kind:    auth.ErrInvalidCredentials,
				Status:  apiErr.Status,
				Message: auth.ErrInvalidCredentials.Error(),
				URL:     apiErr.URL,
			}
		}
		return auth.LoginResult{}, err
	}
	return res, nil
}

func (c *Client) Register(ctx context.Context, reg auth.Registration) error {
	b, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode register body: %w", err)
	}
	req := &request{method: http.MethodPost, path: "/auth/register", body: b}
	err = c.send(ctx, req, "", nil)
	var apiErr *auth.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == auth.ErrUnauthorized {
		apiErr.Kind = auth.ErrUnknown
	}
	return err
}

// Refresh exchanges a refresh token for a new access token. It does not touch
// the token store.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var res struct {
		AccessToken string `json:"access_token"`
	}
	req := &request{method: http.MethodPost, path: "/auth/refresh", body: []byte("{}")}
	if err := c.send(ctx, req, refreshToken, &res); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.AccessToken) == "" {
		return "", &auth.APIError{Kind: auth.ErrUnknown, Message: "refresh response has no access_token", URL: c.url(req.path)}
	}
	return res.AccessToken, nil
}

// Ping reports whether the API answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &auth.APIError{Kind: auth.ErrBackendUnreachable, URL: c.baseURL, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

// refresh returns a new access token. The exchange itself is detached from
// ctx and bounded by refreshTimeout, so a caller that gives up only stops
// waiting. A failed exchange expires the session once, however many requests
// were waiting on it.
func (c *Client) refresh(ctx context.Context) (string, error) {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		err = fmt.Errorf("read refresh token: %w", err)
		c.expire(context.WithoutCancel(ctx), err)
		return "", err
	}
	if strings.TrimSpace(refreshToken) == "" {
		err := &auth.APIError{Kind: auth.ErrUnauthorized, Message: "no refresh token stored"}
		c.expire(context.WithoutCancel(ctx), err)
		return "", err
	}

	detached := context.WithoutCancel(ctx)
	do := func() (any, error) {
		rctx, cancel := context.WithTimeout(detached, refreshTimeout)
		defer cancel()
		c.log.Debug("refreshing access token")
		token, err := c.Refresh(rctx, refreshToken)
		if err == nil {
			if err = c.store.SetAccessToken(rctx, token); err != nil {
				err = fmt.Errorf("persist refreshed access token: %w", err)
			}
		}
		if err != nil {
			c.expire(detached, err)
			return "", err
		}
		return token, nil
	}
	if !c.coalesce {
		v, err := do()
		return v.(string), err
	}

	ch := c.refreshGroup.DoChan(refreshToken, do)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.log.Debug("joined in-flight token refresh")
		}
		return res.Val.(string), res.Err
	}
}

func (c *Client) expire(ctx context.Context, cause error) {
	c.log.Warn("token refresh failed, clearing session", "error", cause)
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("clear token store", "error", err)
	}
	if c.onExpired != nil {
		c.onExpired(ctx, cause)
	}
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// send performs one HTTP exchange. An empty token sends no Authorization.
func (c *Client) send(ctx context.Context, req *request, token string, out any) error {
	target := c.url(req.path)
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	httpReq.Header.Set("X-Request-Id", reqID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &auth.APIError{Kind: auth.ErrBackendUnreachable, URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &auth.APIError{Kind: auth.ErrUnknown, Status: resp.StatusCode, URL: target, Err: fmt.Errorf("read response: %w", err)}
	}
	c.log.Debug("api call", "method", req.method, "path", req.path, "status", resp.StatusCode, "request_id", reqID, "retried", req.retried)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, target, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &auth.APIError{Kind: auth.ErrUnknown, Status: resp.StatusCode, URL: target, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(status int, target string, raw []byte) error {
	msg := errorMessage(raw)
	e := &auth.APIError{Status: status, Message: msg, URL: target}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = auth.ErrUnauthorized
	case status >= 400 && status < 500 && msg != "":
		e.Kind = auth.ErrValidation
	default:
		e.Kind = auth.ErrUnknown
	}
	return e
}

// errorMessage pulls the human readable reason out of an error body. The
// inventory API uses "message"; "error" and "msg" are accepted too.
func errorMessage(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	for _, k := range []string{"message", "error", "msg"} {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func isStatus(err error, status int) bool {
	var apiErr *auth.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
