package main

import (
	"sync"
	"time"
)

// presenceCoalescer implements the §9 open-question resolution for
// user_count broadcasts: the first trigger in a quiet period fires
// immediately (leading edge), further triggers within interval are
// collapsed into one trailing fire so a burst of joins/leaves/pairs/skips
// produces at most one broadcast per interval, as spec §4.5's recommended
// defaults allow ("coalescing is acceptable to at most one per second").
type presenceCoalescer struct {
	mu        sync.Mutex
	interval  time.Duration
	fire      func()
	lastFired time.Time
	pending   bool
	timer     *time.Timer
}

func newPresenceCoalescer(interval time.Duration, fire func()) *presenceCoalescer {
	return &presenceCoalescer{interval: interval, fire: fire}
}

// trigger requests a broadcast. fire is never called in the caller's own
// goroutine — callers routinely hold Registry.mu when they trigger, and
// fire (broadcastUserCount) takes that same lock, so a synchronous call
// here would self-deadlock. Every trigger, leading edge included, arms a
// time.AfterFunc (zero-delay on the leading edge), which always runs fire
// in its own goroutine; further triggers within the interval collapse
// into the one pending timer.
func (p *presenceCoalescer) trigger() {
	p.mu.Lock()

	if p.pending {
		p.mu.Unlock()
		return
	}

	now := time.Now()
	wait := p.interval - now.Sub(p.lastFired)
	if wait < 0 {
		wait = 0
	}
	p.pending = true
	p.timer = time.AfterFunc(wait, func() {
		p.mu.Lock()
		p.pending = false
		p.lastFired = time.Now()
		p.mu.Unlock()
		p.fire()
	})
	p.mu.Unlock()
}
