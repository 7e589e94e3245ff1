package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/frankli0324/go-networking/internal/errors"
)

func TestWatchdogFires(t *testing.T) {
	ctx, wd := NewWatchdog(context.Background(), 20*time.Millisecond)
	defer wd.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.True(t, wd.Fired())
	assert.ErrorIs(t, context.Cause(ctx), ErrInactive)

	err := wd.Translate(errors.New("use of closed network connection"))
	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestWatchdogKick(t *testing.T) {
	ctx, wd := NewWatchdog(context.Background(), 50*time.Millisecond)
	defer wd.Stop()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		wd.Kick()
	}
	assert.NoError(t, ctx.Err())
	assert.False(t, wd.Fired())
}

func TestWatchdogStop(t *testing.T) {
	ctx, wd := NewWatchdog(context.Background(), time.Hour)
	wd.Stop()
	wd.Stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, wd.Fired())

	// stopped but not fired: plain translation
	err := wd.Translate(errors.New("other"))
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.KindTransport, kind)
	assert.NotContains(t, err.Error(), "timed out")

	// a kick after stop never arms the timer again
	wd.Kick()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, wd.Fired())
}

func TestWatchdogPause(t *testing.T) {
	ctx, wd := NewWatchdog(context.Background(), 30*time.Millisecond)
	defer wd.Stop()

	wd.Pause()
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, ctx.Err())
	assert.False(t, wd.Fired())

	wd.Kick()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire after being armed again")
	}
	assert.True(t, wd.Fired())
}

func TestWatchdogZeroTimeout(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, wd := NewWatchdog(parent, 0)
	defer wd.Stop()
	wd.Kick()
	assert.NoError(t, ctx.Err())
	cancel()
	assert.Error(t, ctx.Err())
}
