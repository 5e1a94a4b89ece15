package time

import "time"

// clock provides monotonic time since a context started
// time.Since reads the monotonic clock, so wall clock jumps never reorder events
type Clock struct {
	startTime time.Time
}

func NewClock() *Clock {
	return &Clock{
		startTime: time.Now(),
	}
}

// duration since the clock was created
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.startTime)
}
