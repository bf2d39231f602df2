package service_test

import (
	"context"
	"errors"
	"sync"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/provider"
)

type sent struct {
	Target  provider.Target
	Message string
}

// fakeMessenger records sends; targets listed in fail return an error.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	fail map[provider.Target]bool
	// panicOn targets make the send panic.
	panicOn map[provider.Target]bool

	// block, when set, holds every send until closed.
	block chan struct{}
}

func (f *fakeMessenger) record(ctx context.Context, t provider.Target, msg string) error {
	if f.panicOn[t] {
		panic("nil response from adapter")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[t] {
		return errors.New("retcode 100: bot is not in this chat")
	}
	f.sent = append(f.sent, sent{Target: t, Message: msg})
	return nil
}

func (f *fakeMessenger) SendGroup(ctx context.Context, id int64, msg string) error {
	return f.record(ctx, provider.Target{Scope: domain.ScopeGroup, ID: id}, msg)
}

func (f *fakeMessenger) SendPrivate(ctx context.Context, id int64, msg string) error {
	return f.record(ctx, provider.Target{Scope: domain.ScopePrivate, ID: id}, msg)
}

func (f *fakeMessenger) SendDiscuss(ctx context.Context, id int64, msg string) error {
	return f.record(ctx, provider.Target{Scope: domain.ScopeDiscuss, ID: id}, msg)
}

func (f *fakeMessenger) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeMessenger) Targets() []provider.Target {
	var out []provider.Target
	for _, s := range f.Sent() {
		out = append(out, s.Target)
	}
	return out
}

type fakeApprover struct {
	friends []string
	groups  []string
	err     error
}

func (f *fakeApprover) ApproveFriend(_ context.Context, flag string) error {
	f.friends = append(f.friends, flag)
	return f.err
}

func (f *fakeApprover) ApproveGroupInvite(_ context.Context, flag string) error {
	f.groups = append(f.groups, flag)
	return f.err
}

type staticSubscribers struct {
	records []string
	err     error

	gotTopic, gotKind string
}

func (s *staticSubscribers) Subscribers(_ context.Context, topic, kind string) ([]string, error) {
	s.gotTopic, s.gotKind = topic, kind
	return s.records, s.err
}
