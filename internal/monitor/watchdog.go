// Package monitor watches sessions stuck in handlers and runs offloaded work.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/unisync/internal/metrics"
)

// Config holds watchdog timings. Zero durations disable the matching feature.
type Config struct {
	// Tick is the polling interval of background loops.
	Tick time.Duration

	// FrozeTime is the grace period after which a busy session counts as stalled.
	FrozeTime time.Duration

	// Profile logs handlers that ran longer than this on exit.
	Profile time.Duration
}

// Stall describes one session stuck in a handler.
type Stall struct {
	Session string
	Label   string
	Wait    time.Duration
}

func (s Stall) String() string {
	return fmt.Sprintf("%s %s %.1fs", s.Session, s.Label, s.Wait.Seconds())
}

type busy struct {
	label string
	since time.Time
}

// Watchdog tracks which sessions are inside a handler. It only reports; it
// never cancels anything.
type Watchdog struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	busy   map[string]busy
	warned map[string]bool
}

// NewWatchdog creates a watchdog. m may be nil.
func NewWatchdog(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		busy:    make(map[string]busy),
		warned:  make(map[string]bool),
	}
}

// Enter marks session as running the handler described by label.
func (w *Watchdog) Enter(session, label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy[session] = busy{label: label, since: w.now()}
}

// Exit marks session as idle, logging the handler when it exceeded the
// profile threshold.
func (w *Watchdog) Exit(session string) {
	w.mu.Lock()
	b, ok := w.busy[session]
	delete(w.busy, session)
	delete(w.warned, session)
	w.mu.Unlock()

	if !ok || w.cfg.Profile <= 0 {
		return
	}
	if d := w.now().Sub(b.since); d > w.cfg.Profile {
		w.logger.Warn("slow handler", "session", session, "request", b.label, "duration", d)
	}
}

// Check returns the stalled sessions, longest wait first. When a session
// stalls that was not reported before, one warning listing all of them is
// logged.
func (w *Watchdog) Check() []Stall {
	if w.cfg.FrozeTime <= 0 {
		return nil
	}
	now := w.now()

	w.mu.Lock()
	var stalls []Stall
	fresh := false
	for id, b := range w.busy {
		wait := now.Sub(b.since)
		if wait <= w.cfg.FrozeTime {
			continue
		}
		stalls = append(stalls, Stall{Session: id, Label: b.label, Wait: wait})
		if !w.warned[id] {
			w.warned[id] = true
			fresh = true
		}
	}
	w.mu.Unlock()

	sort.Slice(stalls, func(i, j int) bool {
		if stalls[i].Wait != stalls[j].Wait {
			return stalls[i].Wait > stalls[j].Wait
		}
		return stalls[i].Session < stalls[j].Session
	})
	w.metrics.Stalled(len(stalls))

	if fresh {
		lines := make([]string, len(stalls))
		for i, s := range stalls {
			lines[i] = s.String()
		}
		w.logger.Warn("sessions stalled in handlers",
			"count", len(stalls),
			"sessions", strings.Join(lines, "; "))
	}
	return stalls
}

// Run polls Check every tick until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.cfg.Tick <= 0 || w.cfg.FrozeTime <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}
