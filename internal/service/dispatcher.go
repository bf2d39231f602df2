package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/provider"
)

// ErrRegistry marks a dispatch aborted because the subscriber lookup failed.
var ErrRegistry = errors.New("subscriber registry unavailable")

// SubscriberSource resolves the raw subscriber records of a topic and kind.
// *registry.Client satisfies it.
type SubscriberSource interface {
	Subscribers(ctx context.Context, topic, kind string) ([]string, error)
}

// DeliveryHooks carries the metric callbacks injected by main.
type DeliveryHooks struct {
	OnDelivered func(scope domain.Scope, latency time.Duration)
	OnFailed    func(scope domain.Scope)
	OnSkipped   func()
}

func (h *DeliveryHooks) fill() {
	if h.OnDelivered == nil {
		h.OnDelivered = func(domain.Scope, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Scope) {}
	}
	if h.OnSkipped == nil {
		h.OnSkipped = func() {}
	}
}

// Report summarises one fan-out.
type Report struct {
	Resolved  int // records returned by the registry
	Skipped   int // records of other platforms or unparseable
	Delivered int
	Failed    int
}

// Dispatcher fans one rendered message out to every QQ subscriber of a topic.
type Dispatcher struct {
	subs      SubscriberSource
	messenger provider.Messenger
	limit     int
	logger    *zap.Logger
	hooks     DeliveryHooks
}

// NewDispatcher builds a Dispatcher. concurrency caps simultaneous sends per
// dispatch call; 0 means every recipient is sent to at once.
func NewDispatcher(
	subs SubscriberSource,
	messenger provider.Messenger,
	concurrency int,
	logger *zap.Logger,
	hooks DeliveryHooks,
) *Dispatcher {
	hooks.fill()
	if concurrency <= 0 {
		concurrency = -1
	}
	return &Dispatcher{
		subs:      subs,
		messenger: messenger,
		limit:     concurrency,
		logger:    logger,
		hooks:     hooks,
	}
}

// Dispatch delivers message to every subscriber of (topic, kind).
//
// Only a failed registry lookup fails the call (wrapping ErrRegistry). Each
// recipient's send is isolated: a failure is logged and counted in the
// Report while the other sends run to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, topic, kind, message string) (Report, error) {
	log := d.logger.With(zap.String("topic", topic), zap.String("kind", kind))

	records, err := d.subs.Subscribers(ctx, topic, kind)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrRegistry, err)
	}

	report := Report{Resolved: len(records)}
	targets := make([]provider.Target, 0, len(records))
	for _, rec := range records {
		sub, err := domain.ParseSubscriber(rec)
		if err != nil {
			report.Skipped++
			d.hooks.OnSkipped()
			continue
		}
		targets = append(targets, provider.Target{Scope: sub.Scope, ID: sub.ID})
	}

	if len(targets) == 0 {
		log.Debug("no deliverable subscribers", zap.Int("resolved", report.Resolved))
		return report, nil
	}

	var delivered, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, t := range targets {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					d.hooks.OnFailed(t.Scope)
					log.Error("panic during delivery", zap.Stringer("target", t), zap.Any("panic", r), zap.Stack("stack"))
				}
			}()

			start := time.Now()
			if err := provider.Send(ctx, d.messenger, t, message); err != nil {
				failed.Add(1)
				d.hooks.OnFailed(t.Scope)
				log.Warn("delivery failed", zap.Stringer("target", t), zap.Error(err))
				return nil
			}
			delivered.Add(1)
			d.hooks.OnDelivered(t.Scope, time.Since(start))
			return nil
		})
	}
	// Sends never return an error; Wait is only the join point.
	g.Wait()

	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	log.Info("dispatch finished",
		zap.Int("resolved", report.Resolved),
		zap.Int("skipped", report.Skipped),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
