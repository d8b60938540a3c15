package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestWatchdog(cfg Config) (*Watchdog, *fakeClock, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := NewWatchdog(cfg, logger, nil)
	w.now = clock.now
	return w, clock, &buf
}

func TestWatchdog_RanksStalledSessions(t *testing.T) {
	w, clock, buf := newTestWatchdog(Config{FrozeTime: time.Second})

	w.Enter("s1", "Main/run->changed(1)")
	clock.advance(2 * time.Second)
	w.Enter("s2", "Main/run->changed(2)")
	clock.advance(1500 * time.Millisecond)
	w.Enter("s3", "fast")

	stalls := w.Check()

	require.Len(t, stalls, 2)
	assert.Equal(t, "s1", stalls[0].Session)
	assert.Equal(t, 3500*time.Millisecond, stalls[0].Wait)
	assert.Equal(t, "s2", stalls[1].Session)
	assert.Equal(t, 1, strings.Count(buf.String(), "sessions stalled"))
}

func TestWatchdog_WarnsOncePerStall(t *testing.T) {
	w, clock, buf := newTestWatchdog(Config{FrozeTime: time.Second})

	w.Enter("s1", "x")
	clock.advance(2 * time.Second)
	w.Check()
	w.Check()
	assert.Equal(t, 1, strings.Count(buf.String(), "sessions stalled"))

	w.Exit("s1")
	assert.Empty(t, w.Check())

	w.Enter("s1", "y")
	clock.advance(2 * time.Second)
	w.Check()
	assert.Equal(t, 2, strings.Count(buf.String(), "sessions stalled"))
}

func TestWatchdog_ProfileLogsSlowHandlers(t *testing.T) {
	w, clock, buf := newTestWatchdog(Config{Profile: 100 * time.Millisecond})

	w.Enter("s1", "quick")
	clock.advance(10 * time.Millisecond)
	w.Exit("s1")
	assert.NotContains(t, buf.String(), "slow handler")

	w.Enter("s1", "slow")
	clock.advance(time.Second)
	w.Exit("s1")
	assert.Contains(t, buf.String(), "slow handler")
	assert.Contains(t, buf.String(), "request=slow")
}

func TestWatchdog_RunStopsWithContext(t *testing.T) {
	w, _, _ := newTestWatchdog(Config{Tick: time.Millisecond, FrozeTime: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}

func TestPool_RelaysProgressInOrder(t *testing.T) {
	p := NewPool(2, time.Millisecond, 4)
	var labels []any

	v, err := p.Run(context.Background(), func(_ context.Context, progress func(any)) (any, error) {
		for _, l := range []string{"10%", "50%", "90%"} {
			progress(l)
		}
		progress(nil)
		return 42, nil
	}, func(label any) error {
		labels = append(labels, label)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, []any{"10%", "50%", "90%", nil}, labels)
}

func TestPool_NilProgressEndsPolling(t *testing.T) {
	p := NewPool(1, time.Millisecond, 4)
	var labels []any

	_, err := p.Run(context.Background(), func(_ context.Context, progress func(any)) (any, error) {
		progress(nil)
		progress("ignored")
		return nil, nil
	}, func(label any) error {
		labels = append(labels, label)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []any{nil}, labels)
}

func TestPool_TaskErrorIsReturned(t *testing.T) {
	p := NewPool(1, time.Millisecond, 1)
	boom := errors.New("boom")

	_, err := p.Run(context.Background(), func(context.Context, func(any)) (any, error) {
		return nil, boom
	}, nil)

	assert.ErrorIs(t, err, boom)
}

func TestPool_CancelDoesNotInterruptTask(t *testing.T) {
	p := NewPool(1, time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := p.Run(ctx, func(taskCtx context.Context, _ func(any)) (any, error) {
		<-release
		assert.NoError(t, taskCtx.Err(), "task context is detached from the caller")
		close(finished)
		return nil, nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
}
