package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/ratelimiter"
)

// APIError is a OneBot action that reached the bot but was rejected,
// e.g. the account was removed from the group.
type APIError struct {
	Action  string
	Status  string
	RetCode int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot %s: %s (retcode %d): %s", e.Action, e.Status, e.RetCode, e.Message)
	}
	return fmt.Sprintf("onebot %s: %s (retcode %d)", e.Action, e.Status, e.RetCode)
}

// actionResponse is the OneBot v11 response envelope.
type actionResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
}

// OneBotClient calls the OneBot v11 HTTP API (go-cqhttp and compatible
// implementations). The base URL and token are injected from config so tests
// can point to a local mock.
type OneBotClient struct {
	baseURL     string
	accessToken string
	limiter     *ratelimiter.ScopeLimiters
	httpClient  *http.Client
}

func NewOneBotClient(baseURL, accessToken string, timeout time.Duration, limiter *ratelimiter.ScopeLimiters) *OneBotClient {
	if limiter == nil {
		limiter = ratelimiter.New(0)
	}
	return &OneBotClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		limiter:     limiter,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *OneBotClient) SendGroup(ctx context.Context, groupID int64, message string) error {
	return c.send(ctx, domain.ScopeGroup, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  message,
	})
}

func (c *OneBotClient) SendPrivate(ctx context.Context, userID int64, message string) error {
	return c.send(ctx, domain.ScopePrivate, "send_private_msg", map[string]any{
		"user_id": userID,
		"message": message,
	})
}

func (c *OneBotClient) SendDiscuss(ctx context.Context, discussID int64, message string) error {
	return c.send(ctx, domain.ScopeDiscuss, "send_discuss_msg", map[string]any{
		"discuss_id": discussID,
		"message":    message,
	})
}

func (c *OneBotClient) ApproveFriend(ctx context.Context, flag string) error {
	return c.call(ctx, "set_friend_add_request", map[string]any{
		"flag":    flag,
		"approve": true,
	})
}

func (c *OneBotClient) ApproveGroupInvite(ctx context.Context, flag string) error {
	return c.call(ctx, "set_group_add_request", map[string]any{
		"flag":     flag,
		"sub_type": "invite",
		"approve":  true,
	})
}

func (c *OneBotClient) send(ctx context.Context, scope domain.Scope, action string, params map[string]any) error {
	if err := c.limiter.Wait(ctx, scope); err != nil {
		return fmt.Errorf("onebot %s: rate limit wait: %w", action, err)
	}
	return c.call(ctx, action, params)
}

// call posts params to {baseURL}/{action} and checks the response envelope.
func (c *OneBotClient) call(ctx context.Context, action string, params map[string]any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Action: action, Status: resp.Status, RetCode: -1}
	}

	var ar actionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	if ar.Status != "ok" && ar.Status != "async" {
		msg := ar.Wording
		if msg == "" {
			msg = ar.Msg
		}
		return &APIError{Action: action, Status: ar.Status, RetCode: ar.RetCode, Message: msg}
	}
	return nil
}

// compile-time checks that OneBotClient implements both capabilities
var (
	_ Messenger = (*OneBotClient)(nil)
	_ Approver  = (*OneBotClient)(nil)
)
