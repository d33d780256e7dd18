package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// GraceTimers tracks one pending disconnect timer per identity. A reconnect
// cancels the timer before it fires; re-arming always cancels any existing
// timer first so an identity never has two live timers.
type GraceTimers struct {
	clock clockwork.Clock

	mu    sync.Mutex
	armed map[string]*graceTimer
}

type graceTimer struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// NewGraceTimers creates an empty timer store driven by the given clock.
func NewGraceTimers(clock clockwork.Clock) *GraceTimers {
	return &GraceTimers{
		clock: clock,
		armed: make(map[string]*graceTimer),
	}
}

// Arm schedules onExpire to run once after grace, unless Cancel (or a
// subsequent Arm) intervenes. onExpire runs on its own goroutine and must
// tolerate the world having moved on since scheduling.
func (g *GraceTimers) Arm(identity string, grace time.Duration, onExpire func()) {
	gt := &graceTimer{
		timer:  g.clock.NewTimer(grace),
		cancel: make(chan struct{}),
	}

	g.mu.Lock()
	if prev, ok := g.armed[identity]; ok {
		close(prev.cancel)
	}
	g.armed[identity] = gt
	g.mu.Unlock()

	go func() {
		select {
		case <-gt.timer.Chan():
			// The entry check loses races against Cancel: if the timer was
			// cancelled between firing and this check, expiry must not run.
			if g.remove(identity, gt) {
				onExpire()
			}
		case <-gt.cancel:
			stopAndDrainTimer(gt.timer)
		}
	}()
}

// Cancel cancels and removes a pending timer for identity, if any.
func (g *GraceTimers) Cancel(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gt, ok := g.armed[identity]; ok {
		close(gt.cancel)
		delete(g.armed, identity)
	}
}

// Pending reports whether identity currently has an armed timer.
func (g *GraceTimers) Pending(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.armed[identity]
	return ok
}

// remove deletes the entry for identity only if it still belongs to gt,
// reporting whether this firing still owns the slot.
func (g *GraceTimers) remove(identity string, gt *graceTimer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current, ok := g.armed[identity]; ok && current == gt {
		delete(g.armed, identity)
		return true
	}
	return false
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
