package fsm

import (
	"fmt"
	"sync"

	"github.com/pixperk/tabsession/pkg/types"
)

// receives every applied change, in apply order
// called with the fsm lock held: must not call back into the fsm
type Listener func(types.Change)

// manages the replicated key-value state contexts share
// critical :
// - every node applies the same commands in the same order
// - listeners see changes in that order
// - a write that leaves a value untouched is not a change
type FSM struct {
	mu sync.RWMutex

	data map[string]string // key -> value

	listeners    map[uint64]Listener
	nextListener uint64
}

func NewFSM() *FSM {
	return &FSM{
		data:      make(map[string]string),
		listeners: make(map[uint64]Listener),
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.SetCmd:
		return f.applySet(c)
	case types.RemoveCmd:
		return f.applyRemove(c)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownCommand, cmd)
	}
}

// returned when a key is written
type SetResponse struct {
	Changed bool
}

func (f *FSM) applySet(cmd types.SetCmd) (any, error) {
	if cmd.Key == "" {
		return nil, types.ErrKeyRequired
	}

	old, had := f.data[cmd.Key]
	f.data[cmd.Key] = cmd.Value
	if had && old == cmd.Value {
		return SetResponse{Changed: false}, nil
	}

	change := types.Change{Key: cmd.Key, Writer: cmd.Writer, New: types.Present(cmd.Value)}
	if had {
		change.Old = types.Present(old)
	}
	f.notify(change)

	return SetResponse{Changed: true}, nil
}

// returned when a key is removed
type RemoveResponse struct {
	Removed bool
}

func (f *FSM) applyRemove(cmd types.RemoveCmd) (any, error) {
	if cmd.Key == "" {
		return nil, types.ErrKeyRequired
	}

	old, had := f.data[cmd.Key]
	if !had {
		//removing an absent key is a no-op
		return RemoveResponse{Removed: false}, nil
	}
	delete(f.data, cmd.Key)
	f.notify(types.Change{Key: cmd.Key, Writer: cmd.Writer, Old: types.Present(old)})

	return RemoveResponse{Removed: true}, nil
}

// must hold mu
func (f *FSM) notify(c types.Change) {
	for _, l := range f.listeners {
		l(c)
	}
}

// replaces the whole state, announcing every difference as a change with
// no writer (nobody in particular issued it)
func (f *FSM) replace(data map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, old := range f.data {
		if _, kept := data[key]; !kept {
			f.notify(types.Change{Key: key, Old: types.Present(old)})
		}
	}
	for key, value := range data {
		old, had := f.data[key]
		if had && old == value {
			continue
		}
		change := types.Change{Key: key, New: types.Present(value)}
		if had {
			change.Old = types.Present(old)
		}
		f.notify(change)
	}
	f.data = data
}

// Listen registers l for every subsequent change; the returned func removes it
func (f *FSM) Listen(l Listener) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextListener++
	id := f.nextListener
	f.listeners[id] = l

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// returns the value stored under key
func (f *FSM) Get(key string) types.Value {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.data[key]
	if !ok {
		return types.Absent()
	}
	return types.Present(v)
}

// copy of the whole state
func (f *FSM) Data() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

// current fsm stats
type Stats struct {
	Keys      int
	Listeners int
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{
		Keys:      len(f.data),
		Listeners: len(f.listeners),
	}
}
