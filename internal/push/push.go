// Package push delivers notifications to an external push provider. The
// target is opaque here: a device endpoint, a topic or a tag filter, whatever
// the configured transport understands.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrRejected is returned when the provider answered but refused the message.
var ErrRejected = errors.New("notification rejected")

// Notification is one message for one target.
type Notification struct {
	Target string `json:"target"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Transport sends a notification and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, n Notification) (messageID string, err error)
}

// LogTransport only logs notifications. It is the dry-run default.
type LogTransport struct {
	Logger zerolog.Logger
}

func (l LogTransport) Send(_ context.Context, n Notification) (string, error) {
	l.Logger.Info().Str("target", n.Target).Str("title", n.Title).Str("body", n.Body).Msg("notification")
	return "", nil
}

// Limited wraps a Transport with a shared token bucket.
type Limited struct {
	next    Transport
	limiter *rate.Limiter
}

// RateLimited returns t limited to rps sends per second with the given burst.
// rps <= 0 returns t unchanged.
func RateLimited(t Transport, rps float64, burst int) Transport {
	if rps <= 0 {
		return t
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: t, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Send(ctx context.Context, n Notification) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return l.next.Send(ctx, n)
}
