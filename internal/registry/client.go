// Package registry is the HTTP client for the subscriber registry backend.
// The backend owns users and their subscriptions; this bridge only reads
// subscriber lists and manages the account of the chat it is talking to.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notifyhub/stargazer-relay/internal/domain"
)

// maxErrorBody caps how much of an unexpected response is kept for display.
const maxErrorBody = 4 << 10

// StatusError is an unexpected backend status. Body is shown verbatim to
// users of the command surface.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the registry with a machine-to-machine bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("registry URL %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Client{
		baseURL: u.String(),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Subscribers returns the raw subscriber records for topic filtered by kind.
// GET {backend}/m2m/subs/{topic}?type={kind}
func (c *Client) Subscribers(ctx context.Context, topic, kind string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "m2m/subs/"+url.PathEscape(topic), url.Values{"type": {kind}}, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup subscribers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("lookup subscribers", resp)
	}

	var records []string
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode subscribers: %w", err)
	}
	return records, nil
}

// Token issues a short-lived settings-portal token for user.
// GET {backend}/m2m/get_token/{user}
func (c *Client) Token(ctx context.Context, user string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "m2m/get_token/"+url.PathEscape(user), nil, nil)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	case http.StatusNotFound:
		return "", domain.ErrUserNotFound
	default:
		return "", statusError("get token", resp)
	}
}

// CreateUser registers user. POST {backend}/users with the identifier as body.
func (c *Client) CreateUser(ctx context.Context, user string) error {
	resp, err := c.do(ctx, http.MethodPost, "users", nil, strings.NewReader(user))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return domain.ErrUserExists
	default:
		return statusError("create user", resp)
	}
}

// DeleteUser removes user and all their subscriptions.
// DELETE {backend}/users/{user}
func (c *Client) DeleteUser(ctx context.Context, user string) error {
	resp, err := c.do(ctx, http.MethodDelete, "users/"+url.PathEscape(user), nil, nil)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return statusError("delete user", resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	return c.httpClient.Do(req)
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
