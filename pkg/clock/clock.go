// Package clock abstracts wall time and one-shot timers so reconnect
// scheduling, keepalive and snapshot timestamps can be driven by a fake
// clock in tests.
package clock

import "time"

// Clock is the time source injected into the transport, the store and the
// request tracker.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels a
	// pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. It reports false if the call already
	// happened or the timer was already stopped.
	Stop() bool
}

// NowMs returns the clock's current time in Unix milliseconds.
func NowMs(c Clock) int64 {
	return c.Now().UnixMilli()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
