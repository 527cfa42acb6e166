// Package hubclient is the typed HTTP client the muse CLI uses to talk
// to a hub. Request and response bodies reuse the server's own wire
// structs so the two ends cannot drift apart.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
)

const (
	defaultTimeout = 60 * time.Second
	maxAttempts    = 4
	baseDelay      = 250 * time.Millisecond
)

// Client talks to one hub endpoint on behalf of one token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// Option tweaks client construction.
type Option func(*Client)

// WithHTTPClient swaps the underlying transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger attaches a logger. Request logging never includes the
// token; the Authorization header is always rendered as "Bearer ***".
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a client for baseURL. Token may be empty for anonymous
// reads of public repos.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SplitRepoURL splits a clone-style URL into the hub base and the repo
// reference (id or slug): https://hub.example.com/demo-song →
// ("https://hub.example.com", "demo-song"). A /musehub/repos/ infix is
// tolerated so copied API URLs also work.
func SplitRepoURL(raw string) (base, repoRef string, err error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid repository URL %q", raw)
	}
	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimPrefix(path, "musehub/repos/")
	if path == "" || strings.Contains(path, "/") {
		return "", "", fmt.Errorf("repository URL %q must end in a single repo id or slug", raw)
	}
	u.Path = ""
	return u.String(), path, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is the token grant returned by the hub.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRepo fetches repository metadata by id or slug.
func (c *Client) GetRepo(ctx context.Context, repoRef string) (*domain.Repo, error) {
	var out domain.Repo
	if err := c.do(ctx, http.MethodGet, "/musehub/repos/"+url.PathEscape(repoRef), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Push uploads commits and objects and asks the hub to move a branch.
func (c *Client) Push(ctx context.Context, repoRef string, input musehub.PushInput) (*musehub.PushResult, error) {
	var out musehub.PushResult
	if err := c.do(ctx, http.MethodPost, c.repoPath(repoRef, "push"), input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pull asks the hub for everything missing from the client's have sets.
func (c *Client) Pull(ctx context.Context, repoRef string, input musehub.PullInput) (*musehub.PullResult, error) {
	var out musehub.PullResult
	if err := c.do(ctx, http.MethodPost, c.repoPath(repoRef, "pull"), input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fetch lists remote branch heads without transferring objects.
func (c *Client) Fetch(ctx context.Context, repoRef string, input musehub.FetchInput) (*musehub.FetchResult, error) {
	var out musehub.FetchResult
	if err := c.do(ctx, http.MethodPost, c.repoPath(repoRef, "fetch"), input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clone downloads history and content for a fresh checkout.
func (c *Client) Clone(ctx context.Context, repoRef string, input musehub.CloneInput) (*musehub.CloneResult, error) {
	var out musehub.CloneResult
	if err := c.do(ctx, http.MethodPost, c.repoPath(repoRef, "clone"), input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) repoPath(repoRef, op string) string {
	return "/musehub/repos/" + url.PathEscape(repoRef) + "/" + op
}

// do runs one request with bounded retries. Connection failures and
// 5xx responses retry with backoff; anything else resolves on the
// first round trip. Bodies are buffered so retries can rewind.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		c.log.Debug("hub request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("authorization", redactedAuth(c.token)),
			zap.Int("attempt", attempt+1),
		)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &TransportError{Err: err}
			continue
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = &TransportError{Err: readErr}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = parseAPIError(resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode >= 400 {
			return parseAPIError(resp.StatusCode, respBody)
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func redactedAuth(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer ***"
}
