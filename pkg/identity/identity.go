package identity

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator mints the identity token of a context.
// It is called exactly once per context.
type Generator interface {
	NewToken() string
}

// random v4 uuids
type UUID struct{}

func (UUID) NewToken() string {
	return uuid.NewString()
}

// Sequence hands out prefix-1, prefix-2, ... and is meant for tests
// that need predictable tokens.
type Sequence struct {
	prefix string
	next   atomic.Uint64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewToken() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.next.Add(1))
}

// Fixed always returns the same token; a reloaded context reuses its id this way.
type Fixed string

func (f Fixed) NewToken() string {
	return string(f)
}
