package types

import "errors"

var (
	// Store errors
	ErrStoreUnavailable = errors.New("shared store is unavailable")
	ErrStoreClosed      = errors.New("shared store is closed")
	ErrKeyRequired      = errors.New("key is required")
	ErrContextRequired  = errors.New("context id is required")

	// Replication errors
	ErrNotLeader      = errors.New("node is not the raft leader")
	ErrUnknownCommand = errors.New("unknown command")
)
