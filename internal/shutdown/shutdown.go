// Package shutdown implements the graceful shutdown broadcast every
// listener (DNS server, SOCKS ingress) joins: a context canceled on
// SIGINT/SIGTERM, followed by a bounded grace period before callers are
// expected to force-abort whatever hasn't finished.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/log"
)

// DefaultGracePeriod is how long in-flight work is given to finish after
// the shutdown signal fires before a caller should force-abort it.
const DefaultGracePeriod = 5 * time.Second

// NotifyContext returns a context canceled on SIGINT or SIGTERM, and a
// stop function that releases the underlying signal.Notify registration.
// Callers should defer stop() once the context is no longer needed.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	return ctx, stop
}

// Coordinator tracks the grace period a shutdown gives in-flight work
// before a caller should force-abort it.
type Coordinator struct {
	GracePeriod time.Duration
}

// New builds a Coordinator using grace as its grace period, or
// DefaultGracePeriod when grace is zero or negative.
func New(grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Coordinator{GracePeriod: grace}
}

// Await blocks until ctx is canceled, then calls cleanup and waits up to
// c.GracePeriod for it to return. If cleanup has not returned by then,
// Await logs and returns without waiting further — cleanup is expected
// to keep running in the background and finish abandoning its own work
// on whatever cancellation signal it was given.
func (c *Coordinator) Await(ctx context.Context, cleanup func()) {
	<-ctx.Done()
	log.Info("shutdown: signal received, starting graceful shutdown (grace period %s)", c.GracePeriod)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cleanup()
	}()

	select {
	case <-done:
		log.Info("shutdown: clean shutdown completed within grace period")
	case <-time.After(c.GracePeriod):
		log.Info("shutdown: grace period elapsed, forcing abort")
	}
}
