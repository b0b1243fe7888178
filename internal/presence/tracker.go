// Package presence keeps the current user's advisory online state fresh and
// observes the partner's.
package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultHeartbeat is how often an online tracker re-marks the user online
const DefaultHeartbeat = 30 * time.Second

const writeTimeout = 10 * time.Second

// Writer persists the current user's presence
type Writer interface {
	SetPresence(ctx context.Context, online bool) error
	Touch(ctx context.Context) error
}

// LifecycleEvent is an app visibility or focus transition
type LifecycleEvent int

const (
	Visible LifecycleEvent = iota
	Hidden
	Focus
	Blur
	Unload
)

func (e LifecycleEvent) String() string {
	switch e {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Focus:
		return "focus"
	case Blur:
		return "blur"
	case Unload:
		return "unload"
	}
	return "unknown"
}

// Tracker marks the user online with a heartbeat. At most one heartbeat
// loop runs at a time. Write failures are logged and dropped.
type Tracker struct {
	writer   Writer
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	active atomic.Int32
}

// Option configures a Tracker
type Option func(*Tracker)

// WithInterval overrides the heartbeat interval
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// NewTracker creates a tracker writing through w
func NewTracker(w Writer, opts ...Option) *Tracker {
	t := &Tracker{writer: w, interval: DefaultHeartbeat}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GoOnline marks the user online now and restarts the heartbeat
func (t *Tracker) GoOnline(ctx context.Context) {
	t.set(ctx, true)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	hbCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.active.Add(1)
	go t.heartbeat(hbCtx, done)
}

// GoOffline stops the heartbeat and marks the user offline
func (t *Tracker) GoOffline(ctx context.Context) {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()

	t.set(ctx, false)
}

// HandleLifecycle reacts to app visibility changes. Leaving view only
// refreshes last-seen so brief backgrounding does not show the user offline.
func (t *Tracker) HandleLifecycle(ctx context.Context, ev LifecycleEvent) {
	switch ev {
	case Visible, Focus:
		t.GoOnline(ctx)
	case Hidden, Blur:
		t.touch(ctx)
	case Unload:
		t.GoOffline(ctx)
	}
}

// Close stops the heartbeat without writing
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// ActiveHeartbeats returns the number of running heartbeat loops
func (t *Tracker) ActiveHeartbeats() int {
	return int(t.active.Load())
}

// stopLocked cancels the running heartbeat and waits for it to exit
func (t *Tracker) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
}

func (t *Tracker) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer t.active.Add(-1)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.set(ctx, true)
		}
	}
}

func (t *Tracker) set(ctx context.Context, online bool) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.writer.SetPresence(ctx, online); err != nil {
		log.Warn().Err(err).Bool("online", online).Msg("Presence write failed")
	}
}

func (t *Tracker) touch(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.writer.Touch(ctx); err != nil {
		log.Warn().Err(err).Msg("Presence touch failed")
	}
}
