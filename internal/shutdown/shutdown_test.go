package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsGracePeriod(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultGracePeriod, c.GracePeriod)

	c = New(-time.Second)
	assert.Equal(t, DefaultGracePeriod, c.GracePeriod)

	c = New(10 * time.Second)
	assert.Equal(t, 10*time.Second, c.GracePeriod)
}

func TestAwaitReturnsAfterCleanupFinishes(t *testing.T) {
	c := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	cleaned := make(chan struct{})
	go func() {
		c.Await(ctx, func() { close(cleaned) })
	}()

	cancel()

	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run")
	}
}

func TestAwaitReturnsOnGracePeriodElapsed(t *testing.T) {
	c := New(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	c.Await(ctx, func() {
		time.Sleep(time.Hour)
	})
	assert.Less(t, time.Since(start), time.Second)
}

func TestNotifyContextCancelsOnStop(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any signal")
	default:
	}

	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after stop")
	}
}
