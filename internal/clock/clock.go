// Package clock wraps the host-supplied Clock port (§6.4): now() and
// local-wall-clock conversion, the latter needed to stamp the MMSS field
// used to reorder phone-fallback deliveries.
package clock

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the seam the rest of the core depends on instead of calling
// time.Now directly, so tests can drive deadlines deterministically.
type Clock interface {
	Now() time.Time
	Local(t time.Time) time.Time
	NewTimer(d time.Duration) clockwork.Timer
	NewTicker(d time.Duration) clockwork.Ticker
	After(d time.Duration) <-chan time.Time
}

type realClock struct {
	clockwork.Clock
}

// New returns the production Clock backed by the real wall clock.
func New() Clock {
	return realClock{clockwork.NewRealClock()}
}

func (r realClock) Local(t time.Time) time.Time { return t.Local() }

// fakeClock adapts clockwork's FakeClock (used in tests) to our Clock port.
type fakeClock struct {
	clockwork.FakeClock
}

// NewFake returns a deterministic Clock for tests, seeded at t0.
func NewFake(t0 time.Time) (Clock, clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(t0)
	return fakeClock{fc}, fc
}

func (f fakeClock) Local(t time.Time) time.Time { return t.Local() }

// MMSS formats the minute and second of local wall time as a 4-digit
// string, per §4.1/§6.1 ("mmss is exactly four digits").
func MMSS(c Clock, instant time.Time) string {
	local := c.Local(instant)
	return fmt.Sprintf("%02d%02d", local.Minute(), local.Second())
}
