package store

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/metrics"
	"github.com/pixperk/tabsession/pkg/types"
)

// Safe wraps a Store so that no failure ever reaches the caller.
// Failed reads look like absent keys, failed writes and removes are
// dropped, and every failure is logged and counted.
type Safe struct {
	store  Store
	logger hclog.Logger
}

func NewSafe(s Store, logger hclog.Logger) *Safe {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Safe{store: s, logger: logger}
}

// Get returns the value under key, or absent if the medium failed.
func (s *Safe) Get(key string) types.Value {
	var v types.Value
	err := s.guard(OpGet, key, func() error {
		var err error
		v, err = s.store.Get(key)
		return err
	})
	if err != nil {
		return types.Absent()
	}
	return v
}

// Set reports whether the write landed.
func (s *Safe) Set(key, value string) bool {
	return s.guard(OpSet, key, func() error {
		return s.store.Set(key, value)
	}) == nil
}

// Remove reports whether the delete landed.
func (s *Safe) Remove(key string) bool {
	return s.guard(OpRemove, key, func() error {
		return s.store.Remove(key)
	}) == nil
}

// Subscribe always returns a usable Subscription; ok is false when the
// handler could not be attached and foreign changes will go unseen.
func (s *Safe) Subscribe(h Handler) (sub Subscription, ok bool) {
	err := s.guard(OpSubscribe, "", func() error {
		var err error
		sub, err = s.store.Subscribe(h)
		return err
	})
	if err != nil || sub == nil {
		return nopSubscription, false
	}
	return sub, true
}

// runs fn, turning both errors and panics from the backend into a logged failure
func (s *Safe) guard(op Op, key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", types.ErrStoreUnavailable, r)
		}
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues(string(op)).Inc()
			s.logger.Warn("shared store operation failed", "op", op, "key", key, "error", err)
		}
	}()
	return fn()
}
