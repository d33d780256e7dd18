package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const graceWindow = 10 * time.Second

func TestGraceTimers_FiresAfterGrace(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()
	timers := NewGraceTimers(clock)

	var fired atomic.Int32
	timers.Arm("bob", graceWindow, func() { fired.Add(1) })
	req.True(timers.Pending("bob"))

	clock.BlockUntil(1)
	clock.Advance(graceWindow)

	req.Eventually(func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	req.False(timers.Pending("bob"))
}

func TestGraceTimers_CancelPreventsExpiry(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()
	timers := NewGraceTimers(clock)

	var fired atomic.Int32
	timers.Arm("bob", graceWindow, func() { fired.Add(1) })
	clock.BlockUntil(1)

	timers.Cancel("bob")
	req.False(timers.Pending("bob"))

	clock.Advance(graceWindow * 2)
	time.Sleep(20 * time.Millisecond)
	req.Zero(fired.Load())
}

func TestGraceTimers_CancelUnknownIdentityIsNoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timers := NewGraceTimers(clock)

	timers.Cancel("nobody")
}

func TestGraceTimers_RearmReplacesExistingTimer(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()
	timers := NewGraceTimers(clock)

	var first, second atomic.Int32
	timers.Arm("bob", graceWindow, func() { first.Add(1) })
	clock.BlockUntil(1)

	timers.Arm("bob", graceWindow, func() { second.Add(1) })

	clock.Advance(graceWindow * 2)
	req.Eventually(func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	req.Zero(first.Load(), "replaced timer must never fire")
}

func TestGraceTimers_IdentitiesAreIndependent(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()
	timers := NewGraceTimers(clock)

	var bobFired, aliceFired atomic.Int32
	timers.Arm("bob", graceWindow, func() { bobFired.Add(1) })
	timers.Arm("alice", graceWindow, func() { aliceFired.Add(1) })
	clock.BlockUntil(2)

	timers.Cancel("bob")
	clock.Advance(graceWindow)

	req.Eventually(func() bool { return aliceFired.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	req.Zero(bobFired.Load())
}
