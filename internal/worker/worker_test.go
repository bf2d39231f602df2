package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/stargazer-relay/internal/config"
	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/queue"
	"github.com/notifyhub/stargazer-relay/internal/repository"
	"github.com/notifyhub/stargazer-relay/internal/service"
	"github.com/notifyhub/stargazer-relay/internal/worker"
)

type dispatchCall struct {
	Topic, Kind, Message string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall

	// panicOn / failOn select topics that misbehave.
	panicOn string
	failOn  string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, topic, kind, msg string) (service.Report, error) {
	if topic == f.panicOn {
		panic("renderer exploded")
	}
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{topic, kind, msg})
	f.mu.Unlock()
	if topic == f.failOn {
		return service.Report{}, service.ErrRegistry
	}
	return service.Report{Delivered: 1}, nil
}

func (f *fakeDispatcher) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.calls...)
}

func testConfig(workers int, dedupTTL time.Duration) *config.Config {
	return &config.Config{Workers: workers, DispatchTimeout: time.Second, DedupTTL: dedupTTL}
}

// runPool feeds frames through a pool and waits until all are processed.
func runPool(t *testing.T, d worker.Dispatcher, seen repository.SeenRepository, hooks worker.MetricHooks, frames ...string) {
	t.Helper()
	runPoolWithTTL(t, d, seen, time.Minute, hooks, frames...)
}

func runPoolWithTTL(t *testing.T, d worker.Dispatcher, seen repository.SeenRepository, ttl time.Duration, hooks worker.MetricHooks, frames ...string) {
	t.Helper()
	q := queue.New(0)
	pool := worker.NewPool(testConfig(3, ttl), q, d, seen, zap.NewNop(), hooks)
	require.Equal(t, 3, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for _, f := range frames {
		require.NoError(t, q.Enqueue(queue.NewItem([]byte(f))))
	}

	joinCtx, joinCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer joinCancel()
	require.NoError(t, q.Join(joinCtx), "pool did not drain the queue")

	cancel()
	pool.Wait()
}

func TestPool_RendersAndDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	runPool(t, d, nil, worker.MetricHooks{},
		`{"vtuber":"alice","type":"t_tweet","data":{"title":"Hello","link":"http://x"}}`)

	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].Topic)
	assert.Equal(t, "t_tweet", calls[0].Kind)
	assert.Equal(t, "【alice】Twitter 推文\n————————————\nHello\n链接：http://x", calls[0].Message)
}

// TestPool_SurvivesMalformedFrames verifies bad frames are dropped and the
// frames after them are still processed.
func TestPool_SurvivesMalformedFrames(t *testing.T) {
	d := &fakeDispatcher{}
	var malformed atomic.Int32
	runPool(t, d, nil, worker.MetricHooks{OnMalformed: func() { malformed.Add(1) }},
		`not json`,
		`{"vtuber":"alice","data":{}}`,
		`{"type":"t_tweet","data":{}}`,
		`{"vtuber":"bob","type":"t_rt","data":{"text":"ok"}}`,
	)

	assert.Equal(t, int32(3), malformed.Load())
	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "bob", calls[0].Topic)
}

func TestPool_UnrenderableEventIsNotDispatched(t *testing.T) {
	d := &fakeDispatcher{}
	var unrenderable atomic.Int32
	runPool(t, d, nil, worker.MetricHooks{OnUnrenderable: func() { unrenderable.Add(1) }},
		`{"vtuber":"alice","type":"","data":{"title":"x"}}`)

	assert.Empty(t, d.Calls())
	assert.Equal(t, int32(1), unrenderable.Load())
}

func TestPool_UnknownKindUsesRawType(t *testing.T) {
	d := &fakeDispatcher{}
	runPool(t, d, nil, worker.MetricHooks{},
		`{"vtuber":"alice","type":"twitch_live","data":{"text":"on air"}}`)

	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].Message, "【alice】twitch_live\n"), calls[0].Message)
}

func TestPool_RecoversFromPanics(t *testing.T) {
	d := &fakeDispatcher{panicOn: "boom"}
	runPool(t, d, nil, worker.MetricHooks{},
		`{"vtuber":"boom","type":"t_tweet","data":{}}`,
		`{"vtuber":"boom","type":"t_rt","data":{}}`,
		`{"vtuber":"boom","type":"t_tweet","data":{"text":"again"}}`,
		`{"vtuber":"alice","type":"t_tweet","data":{}}`,
	)

	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].Topic)
}

func TestPool_DispatchFailureDoesNotStopWorkers(t *testing.T) {
	d := &fakeDispatcher{failOn: "down"}
	var failures atomic.Int32
	runPool(t, d, nil, worker.MetricHooks{
		OnDispatched: func(_ string, _ time.Duration, err error) {
			if errors.Is(err, service.ErrRegistry) {
				failures.Add(1)
			}
		},
	},
		`{"vtuber":"down","type":"t_tweet","data":{}}`,
		`{"vtuber":"alice","type":"t_tweet","data":{}}`,
	)

	assert.Len(t, d.Calls(), 2)
	assert.Equal(t, int32(1), failures.Load())
}

func TestPool_SuppressesDuplicateFrames(t *testing.T) {
	d := &fakeDispatcher{}
	var dupes atomic.Int32
	frame := `{"vtuber":"alice","type":"t_tweet","data":{"title":"once"}}`
	runPool(t, d, repository.NewMemorySeenRepository(), worker.MetricHooks{OnDuplicate: func() { dupes.Add(1) }},
		frame, frame, frame)

	assert.Len(t, d.Calls(), 1)
	assert.Equal(t, int32(2), dupes.Load())
}

func TestPool_IdenticalFramesWithoutSeenStoreAreAllDispatched(t *testing.T) {
	d := &fakeDispatcher{}
	frame := `{"vtuber":"alice","type":"ytb_reminder","data":{"title":"soon"}}`
	runPool(t, d, nil, worker.MetricHooks{}, frame, frame)

	assert.Len(t, d.Calls(), 2)
}

func TestPool_ZeroDedupTTLDisablesSuppression(t *testing.T) {
	d := &fakeDispatcher{}
	seen := repository.NewMemorySeenRepository()
	frame := `{"vtuber":"alice","type":"ytb_reminder","data":{"title":"soon"}}`
	runPoolWithTTL(t, d, seen, 0, worker.MetricHooks{}, frame, frame)

	assert.Len(t, d.Calls(), 2)
	assert.Equal(t, 0, seen.Len())
}

// TestPool_FailedDispatchIsNotMarkedSeen resends a frame whose first
// dispatch failed and expects it to be dispatched again.
func TestPool_FailedDispatchIsNotMarkedSeen(t *testing.T) {
	d := &fakeDispatcher{failOn: "alice"}
	seen := repository.NewMemorySeenRepository()
	frame := `{"vtuber":"alice","type":"t_tweet","data":{"title":"retry me"}}`

	runPool(t, d, seen, worker.MetricHooks{}, frame)
	require.Len(t, d.Calls(), 1)
	assert.Equal(t, 0, seen.Len())

	d.failOn = ""
	runPool(t, d, seen, worker.MetricHooks{}, frame)
	assert.Len(t, d.Calls(), 2, "resend after a failed dispatch is relayed")
	assert.Equal(t, 1, seen.Len())

	runPool(t, d, seen, worker.MetricHooks{}, frame)
	assert.Len(t, d.Calls(), 2, "resend after a successful dispatch is suppressed")
}

func TestPool_SeenStoreOutageFailsOpen(t *testing.T) {
	d := &fakeDispatcher{}
	seen := repository.NewMemorySeenRepository()
	seen.MarkSeenErr = errors.New("redis: connection refused")
	frame := `{"vtuber":"alice","type":"t_tweet","data":{}}`
	runPool(t, d, seen, worker.MetricHooks{}, frame, frame)

	assert.Len(t, d.Calls(), 2)
}

// TestPool_EndToEnd runs a frame through the real dispatcher.
func TestPool_EndToEnd(t *testing.T) {
	subs := subscribersFunc(func(topic, kind string) ([]string, error) {
		return []string{"qq+group_100", "foo+bar_3", "garbage"}, nil
	})
	m := &groupRecorder{}
	d := service.NewDispatcher(subs, m, 0, zap.NewNop(), service.DeliveryHooks{})

	runPool(t, d, nil, worker.MetricHooks{},
		`{"vtuber":"alice","type":"t_tweet","data":{"title":"Hello","link":"http://x"}}`)

	require.Len(t, m.groups, 1)
	assert.Equal(t, int64(100), m.groups[0].id)
	assert.Contains(t, m.groups[0].msg, domain.KindLabels["t_tweet"])
	assert.Contains(t, m.groups[0].msg, "Hello")
	assert.Contains(t, m.groups[0].msg, "链接：http://x")
}

type subscribersFunc func(topic, kind string) ([]string, error)

func (f subscribersFunc) Subscribers(_ context.Context, topic, kind string) ([]string, error) {
	return f(topic, kind)
}

type groupSend struct {
	id  int64
	msg string
}

type groupRecorder struct {
	mu     sync.Mutex
	groups []groupSend
}

func (g *groupRecorder) SendGroup(_ context.Context, id int64, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groups = append(g.groups, groupSend{id, msg})
	return nil
}

func (g *groupRecorder) SendPrivate(context.Context, int64, string) error {
	return errors.New("unexpected private send")
}

func (g *groupRecorder) SendDiscuss(context.Context, int64, string) error {
	return errors.New("unexpected discuss send")
}
