// Package store defines the shared key-value medium contexts negotiate
// session ownership through, and the in-process implementation of it.
package store

import "github.com/pixperk/tabsession/pkg/types"

// Handler receives changes made by other contexts.
type Handler func(types.Change)

// Subscription detaches a Handler.
type Subscription interface {
	Close() error
}

// Store is one context's view of the shared medium.
//
// Reads observe the latest write. Writes are unconditional overwrites with
// no compare-and-swap. Subscribed handlers run asynchronously, in write
// order, for changes issued by any context other than this one.
type Store interface {
	Get(key string) (types.Value, error)
	Set(key, value string) error
	Remove(key string) error
	Subscribe(h Handler) (Subscription, error)
}

// Backend hands out per-context handles onto one shared medium.
// Handles attached with the same context id are the same writer.
type Backend interface {
	Attach(contextID string) Store
}

// operation names used for fault injection, logs and metrics
type Op string

const (
	OpGet       Op = "get"
	OpSet       Op = "set"
	OpRemove    Op = "remove"
	OpSubscribe Op = "subscribe"
)

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error { return f() }

var nopSubscription = SubscriptionFunc(func() error { return nil })
