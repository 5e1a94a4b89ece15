package store

import (
	"fmt"
	"sync"

	"github.com/pixperk/tabsession/pkg/queue"
	"github.com/pixperk/tabsession/pkg/types"
)

// FaultFunc decides whether an operation on the medium fails.
// Returning nil lets the operation through.
type FaultFunc func(op Op, key string) error

// Medium is an in-process shared store, the equivalent of origin-scoped
// browser storage: every attached context reads and writes the same map,
// and every other context's subscribers hear about it.
type Medium struct {
	mu      sync.Mutex
	data    map[string]string
	subs    map[uint64]*memorySub
	nextSub uint64
	fault   FaultFunc

	pending int //notifications queued or in flight
	settled *sync.Cond
}

type memorySub struct {
	owner string
	q     *queue.Queue[types.Change]
}

func NewMedium() *Medium {
	m := &Medium{
		data: make(map[string]string),
		subs: make(map[uint64]*memorySub),
	}
	m.settled = sync.NewCond(&m.mu)
	return m
}

func (m *Medium) Attach(contextID string) Store {
	return &memoryHandle{medium: m, id: contextID}
}

// SetFault installs (or with nil, clears) a failure injector.
func (m *Medium) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Snapshot copies the current contents.
func (m *Medium) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Settle blocks until every notification issued so far has been handled.
func (m *Medium) Settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending > 0 {
		m.settled.Wait()
	}
}

// Subscribers reports the number of attached handlers.
func (m *Medium) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// must hold mu
func (m *Medium) check(op Op, key string) error {
	if m.fault == nil {
		return nil
	}
	if err := m.fault(op, key); err != nil {
		return fmt.Errorf("%s %q: %w: %w", op, key, types.ErrStoreUnavailable, err)
	}
	return nil
}

// must hold mu
func (m *Medium) broadcast(c types.Change) {
	for _, sub := range m.subs {
		if sub.owner == c.Writer {
			continue
		}
		if sub.q.Push(c) {
			m.pending++
		}
	}
}

func (m *Medium) handled() {
	m.mu.Lock()
	m.pending--
	if m.pending <= 0 {
		m.pending = 0
		m.settled.Broadcast()
	}
	m.mu.Unlock()
}

type memoryHandle struct {
	medium *Medium
	id     string
}

func (h *memoryHandle) Get(key string) (types.Value, error) {
	m := h.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpGet, key); err != nil {
		return types.Absent(), err
	}
	v, ok := m.data[key]
	if !ok {
		return types.Absent(), nil
	}
	return types.Present(v), nil
}

func (h *memoryHandle) Set(key, value string) error {
	m := h.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpSet, key); err != nil {
		return err
	}

	old, had := m.data[key]
	m.data[key] = value
	if had && old == value {
		//rewriting the same value is not a change
		return nil
	}

	change := types.Change{Key: key, Writer: h.id, New: types.Present(value)}
	if had {
		change.Old = types.Present(old)
	}
	m.broadcast(change)
	return nil
}

func (h *memoryHandle) Remove(key string) error {
	m := h.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpRemove, key); err != nil {
		return err
	}

	old, had := m.data[key]
	if !had {
		return nil
	}
	delete(m.data, key)
	m.broadcast(types.Change{Key: key, Writer: h.id, Old: types.Present(old)})
	return nil
}

func (h *memoryHandle) Subscribe(handler Handler) (Subscription, error) {
	m := h.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpSubscribe, ""); err != nil {
		return nil, err
	}

	m.nextSub++
	id := m.nextSub
	m.subs[id] = &memorySub{
		owner: h.id,
		q:     queue.NewWithHook(func(c types.Change) { handler(c) }, m.handled),
	}

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			sub, ok := m.subs[id]
			if !ok {
				return
			}
			delete(m.subs, id)
			m.pending -= sub.q.Close()
			if m.pending <= 0 {
				m.pending = 0
				m.settled.Broadcast()
			}
		})
		return nil
	}), nil
}
