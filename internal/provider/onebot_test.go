package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/provider"
)

type call struct {
	Path   string
	Auth   string
	Params map[string]any
}

type fakeOneBot struct {
	mu    sync.Mutex
	calls []call
	reply string
	code  int
}

func (f *fakeOneBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls = append(f.calls, call{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Params: params})
	reply, code := f.reply, f.code
	f.mu.Unlock()

	if code == 0 {
		code = http.StatusOK
	}
	if reply == "" {
		reply = `{"status":"ok","retcode":0,"data":{"message_id":1}}`
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(reply))
}

func newClient(t *testing.T, f *fakeOneBot) *provider.OneBotClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return provider.NewOneBotClient(srv.URL+"/", "tok", time.Second, nil)
}

func TestOneBotClient_SendActions(t *testing.T) {
	f := &fakeOneBot{}
	c := newClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.SendGroup(ctx, 100, "g"))
	require.NoError(t, c.SendPrivate(ctx, 200, "p"))
	require.NoError(t, c.SendDiscuss(ctx, 300, "d"))

	require.Len(t, f.calls, 3)
	assert.Equal(t, "/send_group_msg", f.calls[0].Path)
	assert.Equal(t, float64(100), f.calls[0].Params["group_id"])
	assert.Equal(t, "g", f.calls[0].Params["message"])
	assert.Equal(t, "Bearer tok", f.calls[0].Auth)

	assert.Equal(t, "/send_private_msg", f.calls[1].Path)
	assert.Equal(t, float64(200), f.calls[1].Params["user_id"])

	assert.Equal(t, "/send_discuss_msg", f.calls[2].Path)
	assert.Equal(t, float64(300), f.calls[2].Params["discuss_id"])
}

func TestOneBotClient_Approvals(t *testing.T) {
	f := &fakeOneBot{}
	c := newClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.ApproveFriend(ctx, "f1"))
	require.NoError(t, c.ApproveGroupInvite(ctx, "g1"))

	require.Len(t, f.calls, 2)
	assert.Equal(t, "/set_friend_add_request", f.calls[0].Path)
	assert.Equal(t, "f1", f.calls[0].Params["flag"])
	assert.Equal(t, true, f.calls[0].Params["approve"])
	assert.Equal(t, "/set_group_add_request", f.calls[1].Path)
	assert.Equal(t, "invite", f.calls[1].Params["sub_type"])
}

func TestOneBotClient_FailedStatus(t *testing.T) {
	f := &fakeOneBot{reply: `{"status":"failed","retcode":100,"wording":"not in group"}`}
	c := newClient(t, f)

	err := c.SendGroup(context.Background(), 1, "x")
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "send_group_msg", apiErr.Action)
	assert.Equal(t, 100, apiErr.RetCode)
	assert.Equal(t, "not in group", apiErr.Message)
}

func TestOneBotClient_HTTPError(t *testing.T) {
	f := &fakeOneBot{code: http.StatusUnauthorized, reply: "{}"}
	c := newClient(t, f)

	var apiErr *provider.APIError
	require.ErrorAs(t, c.SendPrivate(context.Background(), 1, "x"), &apiErr)
	assert.Equal(t, -1, apiErr.RetCode)
}

type recordingMessenger struct {
	got []string
}

func (r *recordingMessenger) SendGroup(_ context.Context, id int64, _ string) error {
	r.got = append(r.got, provider.Target{Scope: domain.ScopeGroup, ID: id}.String())
	return nil
}

func (r *recordingMessenger) SendPrivate(_ context.Context, id int64, _ string) error {
	r.got = append(r.got, provider.Target{Scope: domain.ScopePrivate, ID: id}.String())
	return nil
}

func (r *recordingMessenger) SendDiscuss(_ context.Context, id int64, _ string) error {
	r.got = append(r.got, provider.Target{Scope: domain.ScopeDiscuss, ID: id}.String())
	return nil
}

func TestSend_RoutesByScope(t *testing.T) {
	m := &recordingMessenger{}
	ctx := context.Background()

	require.NoError(t, provider.Send(ctx, m, provider.Target{Scope: domain.ScopeGroup, ID: 1}, "x"))
	require.NoError(t, provider.Send(ctx, m, provider.Target{Scope: domain.ScopePrivate, ID: 2}, "x"))
	require.NoError(t, provider.Send(ctx, m, provider.Target{Scope: domain.ScopeDiscuss, ID: 3}, "x"))
	assert.ErrorIs(t, provider.Send(ctx, m, provider.Target{Scope: "channel", ID: 4}, "x"), domain.ErrUnsupportedSubscriber)

	assert.Equal(t, []string{"group_1", "private_2", "discuss_3"}, m.got)
}
