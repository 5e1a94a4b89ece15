package types

import "time"

// ownership status of one context
type Status int

const (
	StatusUnclaimed Status = iota
	StatusOwner
	StatusObservingForeignOwner
)

func (s Status) String() string {
	switch s {
	case StatusOwner:
		return "owner"
	case StatusObservingForeignOwner:
		return "observing"
	case StatusUnclaimed:
		return "unclaimed"
	default:
		return "unknown"
	}
}

// emitted on every status transition
// At is monotonic time since the coordinator was created
type Event struct {
	From Status
	To   Status
	At   time.Duration
}
