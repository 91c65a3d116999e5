// Package dispatch delivers change events to subscribers. Every event is
// handled on its own: a missing subscription, a registry error or a transport
// failure only affects that event's outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"shipwatch/internal/metrics"
	"shipwatch/internal/model"
	"shipwatch/internal/push"
	"shipwatch/internal/registry"
)

const (
	DefaultWorkers = 8
	DefaultTimeout = 10 * time.Second
)

// ErrTimeout marks a notification that did not complete within Options.Timeout.
var ErrTimeout = errors.New("notification timed out")

// Summary counts per-event outcomes of one Dispatch call.
type Summary struct {
	Total      int `json:"total"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Unresolved int `json:"unresolved"`
	Skipped    int `json:"skipped"` // first-seen events suppressed by policy
}

// Options tunes a Dispatcher. Zero values fall back to the defaults.
type Options struct {
	Workers           int
	Timeout           time.Duration
	NotifyOnFirstSeen bool
}

type Dispatcher struct {
	registry  registry.Registry
	transport push.Transport
	opts      Options
	logger    zerolog.Logger
	metrics   *metrics.Registry
}

// New builds a Dispatcher; m may be nil.
func New(reg registry.Registry, t push.Transport, opts Options, logger zerolog.Logger, m *metrics.Registry) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Dispatcher{registry: reg, transport: t, opts: opts, logger: logger, metrics: m}
}

type outcome int

const (
	sent outcome = iota
	failed
	unresolved
)

// Dispatch notifies the subscriber of each event concurrently and returns once
// every event has an outcome. It never fails as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, events []model.ChangeEvent) Summary {
	ctx, span := otel.Tracer("shipwatch/dispatch").Start(ctx, "Dispatch")
	defer span.End()

	var sum Summary
	sum.Total = len(events)
	var nSent, nFailed, nUnresolved atomic.Int64

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, ev := range events {
		if ev.FirstSeen() && !d.opts.NotifyOnFirstSeen {
			sum.Skipped++
			continue
		}
		ev := ev
		g.Go(func() error {
			switch d.one(ctx, ev) {
			case sent:
				nSent.Add(1)
			case failed:
				nFailed.Add(1)
			case unresolved:
				nUnresolved.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Sent = int(nSent.Load())
	sum.Failed = int(nFailed.Load())
	sum.Unresolved = int(nUnresolved.Load())
	span.SetAttributes(
		attribute.Int("events", sum.Total),
		attribute.Int("sent", sum.Sent),
		attribute.Int("failed", sum.Failed),
		attribute.Int("unresolved", sum.Unresolved),
	)
	if sum.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d notifications failed", sum.Failed))
	}
	d.logger.Info().
		Int("events", sum.Total).
		Int("sent", sum.Sent).
		Int("failed", sum.Failed).
		Int("unresolved", sum.Unresolved).
		Int("skipped", sum.Skipped).
		Msg("dispatch finished")
	return sum
}

func (d *Dispatcher) one(parent context.Context, ev model.ChangeEvent) outcome {
	shortID := model.ShortID(ev.Destination)
	log := d.logger.With().Str("short_id", shortID).Str("key", string(ev.Key)).Logger()
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, d.opts.Timeout)
	defer cancel()

	var o outcome
	r := d.bounded(ctx, func(ctx context.Context) attempt {
		target, ok, err := d.registry.Resolve(ctx, shortID)
		if err != nil {
			return attempt{err: fmt.Errorf("resolve: %w", err)}
		}
		if !ok {
			return attempt{}
		}
		id, err := d.transport.Send(ctx, Message(target, ev))
		return attempt{resolved: true, id: id, err: err}
	})
	switch {
	case r.err != nil:
		o = failed
		log.Warn().Err(r.err).Msg("notification failed")
	case !r.resolved:
		o = unresolved
		log.Debug().Msg("no subscriber")
	default:
		o = sent
		log.Debug().Str("message_id", r.id).Msg("notification sent")
	}

	if d.metrics != nil {
		d.metrics.NotificationLatency.Observe(time.Since(start).Seconds())
		d.metrics.Notifications.WithLabelValues(o.label()).Inc()
	}
	return o
}

type attempt struct {
	resolved bool
	id       string
	err      error
}

// bounded runs fn and gives up when ctx ends even if fn does not return.
func (d *Dispatcher) bounded(ctx context.Context, fn func(context.Context) attempt) attempt {
	done := make(chan attempt, 1)
	go func() { done <- fn(ctx) }()
	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return attempt{err: ErrTimeout}
		}
		return attempt{err: ctx.Err()}
	}
}

func (o outcome) label() string {
	switch o {
	case sent:
		return metrics.OutcomeSent
	case unresolved:
		return metrics.OutcomeUnresolved
	}
	return metrics.OutcomeFailed
}

// Message renders the notification for one event.
func Message(target string, ev model.ChangeEvent) push.Notification {
	n := push.Notification{
		Target: target,
		Title:  fmt.Sprintf("Actualización en Destino: %s", ev.Destination),
	}
	if ev.PreviousStatus == nil {
		n.Body = fmt.Sprintf("Nuevo registro con estado '%s'", ev.NewStatus)
	} else {
		n.Body = fmt.Sprintf("Estado cambió de '%s' a '%s'", *ev.PreviousStatus, ev.NewStatus)
	}
	return n
}
