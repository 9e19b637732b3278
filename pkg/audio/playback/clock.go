package playback

import (
	"sort"
	"sync"
	"time"
)

// Clock is the output clock buffers are scheduled against. Now is measured
// from an arbitrary epoch and never goes backwards.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback registered with [Clock.AfterFunc].
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// ── WallClock ─────────────────────────────────────────────────────────────────

// WallClock is a Clock backed by the monotonic system clock.
type WallClock struct {
	epoch time.Time
}

// NewWallClock returns a WallClock whose epoch is now.
func NewWallClock() *WallClock { return &WallClock{epoch: time.Now()} }

// Now returns the time elapsed since the clock was created.
func (c *WallClock) Now() time.Duration { return time.Since(c.epoch) }

// AfterFunc runs f in its own goroutine after d.
func (c *WallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ── ManualClock ───────────────────────────────────────────────────────────────

// ManualClock is a Clock that only moves when Advance is called. Timers fire
// synchronously from Advance in deadline order. Safe for concurrent use.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Duration
	seq   uint64
	f     func()
	done  bool
}

// NewManualClock returns a ManualClock at time zero.
func NewManualClock() *ManualClock { return &ManualClock{} }

// Now returns the current manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has been advanced by d. A
// non-positive d fires on the next Advance call, never synchronously.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now + max(d, 0), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and fires every due timer in deadline
// order. The clock reads each timer's deadline while its callback runs.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.compactLocked()
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at > c.now {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// Set moves the clock to the absolute time at, firing due timers. Moving
// backwards is ignored.
func (c *ManualClock) Set(at time.Duration) {
	if d := at - c.Now(); d > 0 {
		c.Advance(d)
	}
}

func (c *ManualClock) nextDueLocked(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (c *ManualClock) compactLocked() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	c.timers = live
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
