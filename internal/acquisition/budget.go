package acquisition

import "time"

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock in UTC.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Budget tracks an absolute deadline for a run. It is a checkpoint and never
// cancels work already in flight.
type Budget struct {
	deadline time.Time
	clock    Clock
}

// NewBudget wraps deadline.
func NewBudget(deadline time.Time, clock Clock) Budget {
	if clock == nil {
		clock = SystemClock{}
	}
	return Budget{deadline: deadline, clock: clock}
}

// Deadline returns the absolute deadline.
func (b Budget) Deadline() time.Time { return b.deadline }

// Exceeded reports whether the deadline has passed.
func (b Budget) Exceeded() bool {
	return !b.clock.Now().Before(b.deadline)
}

// Remaining returns the time left, never negative.
func (b Budget) Remaining() time.Duration {
	left := b.deadline.Sub(b.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
