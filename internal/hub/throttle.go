package hub

import (
	"sync"
	"time"

	"github.com/partyline/server/internal/metrics"
)

// DefaultBroadcastWindow caps room broadcasts at one flush per window,
// i.e. at most 10 broadcasts per second per room.
const DefaultBroadcastWindow = 100 * time.Millisecond

// throttler coalesces SendToRoom calls: within a window, the latest payload
// per (room, event) wins and is flushed at window end. Per-room state is one
// timestamp, one pending slot map and at most one armed timer, evicted on
// room destroy. This is the backpressure mechanism; no per-room queue grows
// beyond the pending slots.
type throttler struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*throttleEntry
	flush   func(code, event string, payload any)

	// now and after are swapped in tests for deterministic windows.
	now   func() time.Time
	after func(d time.Duration, f func()) *time.Timer
}

type throttleEntry struct {
	lastFlush time.Time
	pending   map[string]any
	timer     *time.Timer
}

func newThrottler(window time.Duration, flush func(code, event string, payload any)) *throttler {
	return &throttler{
		window:  window,
		entries: make(map[string]*throttleEntry),
		flush:   flush,
		now:     time.Now,
		after:   time.AfterFunc,
	}
}

// Send delivers immediately when the room is outside its window, otherwise
// parks the payload in the room's pending slot for that event.
func (t *throttler) Send(code, event string, payload any) {
	t.mu.Lock()

	entry, ok := t.entries[code]
	if !ok {
		entry = &throttleEntry{pending: make(map[string]any)}
		t.entries[code] = entry
	}

	now := t.now()
	if entry.timer == nil && now.Sub(entry.lastFlush) >= t.window {
		entry.lastFlush = now
		t.mu.Unlock()
		metrics.BroadcastsSent.Inc()
		t.flush(code, event, payload)
		return
	}

	if _, replaced := entry.pending[event]; replaced {
		metrics.BroadcastsCoalesced.Inc()
	}
	entry.pending[event] = payload
	if entry.timer == nil {
		wait := t.window - now.Sub(entry.lastFlush)
		if wait < 0 {
			wait = 0
		}
		entry.timer = t.after(wait, func() { t.flushPending(code) })
	}
	t.mu.Unlock()
}

func (t *throttler) flushPending(code string) {
	t.mu.Lock()
	entry, ok := t.entries[code]
	if !ok {
		t.mu.Unlock()
		return
	}
	pending := entry.pending
	entry.pending = make(map[string]any)
	entry.timer = nil
	entry.lastFlush = t.now()
	t.mu.Unlock()

	for event, payload := range pending {
		metrics.BroadcastsSent.Inc()
		t.flush(code, event, payload)
	}
}

// Evict drops a room's throttle state and drains its timer.
func (t *throttler) Evict(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[code]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.entries, code)
	}
}

// Close stops every armed timer.
func (t *throttler) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for code, entry := range t.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.entries, code)
	}
}
