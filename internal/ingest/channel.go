package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notifyhub/stargazer-relay/internal/queue"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
)

// Hooks carries the metric callbacks injected by main.
type Hooks struct {
	OnConnected    func()
	OnDisconnected func()
	OnReconnect    func(delay time.Duration)
	OnFrame        func()
	OnDropped      func()
}

func (h *Hooks) fill() {
	if h.OnConnected == nil {
		h.OnConnected = func() {}
	}
	if h.OnDisconnected == nil {
		h.OnDisconnected = func() {}
	}
	if h.OnReconnect == nil {
		h.OnReconnect = func(time.Duration) {}
	}
	if h.OnFrame == nil {
		h.OnFrame = func() {}
	}
	if h.OnDropped == nil {
		h.OnDropped = func() {}
	}
}

// Options tunes the connection. ReconnectDelay equal to ReconnectMaxDelay
// gives a fixed delay between attempts; a larger max grows the delay
// exponentially with jitter up to that bound. Retries are never capped.
type Options struct {
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	// PingInterval enables keepalive; a peer that misses two pings is
	// treated as a dropped connection. Zero disables it.
	PingInterval time.Duration
	Header       http.Header
}

// Channel keeps one streaming connection to the upstream event source and
// is the only writer to the work queue.
type Channel struct {
	url     string
	q       *queue.Queue
	opts    Options
	dialer  *websocket.Dialer
	backoff backoff.BackOff
	logger  *zap.Logger
	hooks   Hooks

	connected atomic.Bool
}

func NewChannel(url string, q *queue.Queue, opts Options, logger *zap.Logger, hooks Hooks) *Channel {
	hooks.fill()
	return &Channel{
		url:  url,
		q:    q,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		backoff: newBackOff(opts.ReconnectDelay, opts.ReconnectMaxDelay),
		logger:  logger.With(zap.String("upstream", url)),
		hooks:   hooks,
	}
}

// Connected reports whether the upstream connection is currently open.
func (c *Channel) Connected() bool { return c.connected.Load() }

func newBackOff(initial, max time.Duration) backoff.BackOff {
	if max <= initial {
		return backoff.NewConstantBackOff(initial)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	return b
}

// Run blocks until ctx is cancelled (returning nil) or a non-transient
// error occurs (returned to the caller, which should treat it as fatal).
func (c *Channel) Run(ctx context.Context) error {
	c.logger.Info("ingestion channel started")
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("ingestion channel stopping")
			return nil
		}
		if !IsTransient(err) {
			return fmt.Errorf("ingest from %s: %w", c.url, err)
		}

		delay := c.backoff.NextBackOff()
		c.logger.Warn("upstream connection lost, reconnecting",
			zap.Error(err), zap.Duration("delay", delay))
		c.hooks.OnReconnect(delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("ingestion channel stopping")
			return nil
		case <-timer.C:
		}
	}
}

// session dials once and pumps frames into the queue until the connection
// fails. The returned error is never nil.
func (c *Channel) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return err
	}
	defer conn.Close()

	c.backoff.Reset()
	c.connected.Store(true)
	c.hooks.OnConnected()
	defer func() {
		c.connected.Store(false)
		c.hooks.OnDisconnected()
	}()
	c.logger.Info("connected to upstream")

	stop := make(chan struct{})
	defer close(stop)

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		case <-stop:
		}
	}()

	if c.opts.PingInterval > 0 {
		c.keepalive(conn, stop)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.opts.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		}
		c.enqueue(data)
	}
}

// keepalive arms the read deadline and pings the peer until stop closes.
func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	pongWait := 2 * c.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
					return
				}
			}
		}
	}()
}

// enqueue never blocks the read loop; a full bounded queue drops the frame.
func (c *Channel) enqueue(data []byte) {
	item := queue.NewItem(data)
	if err := c.q.Enqueue(item); err != nil {
		c.logger.Warn("dropping frame", zap.String("event_id", item.ID), zap.Error(err))
		c.hooks.OnDropped()
		return
	}
	c.logger.Debug("frame queued", zap.String("event_id", item.ID), zap.Int("bytes", len(data)))
	c.hooks.OnFrame()
}
