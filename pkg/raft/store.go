package raft

import (
	"sync"

	"github.com/pixperk/tabsession/pkg/queue"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
)

// Attach returns a context's handle on the replicated store.
// Reads are served from this node's fsm; writes go through raft and
// therefore only succeed on the leader.
func (n *Node) Attach(contextID string) store.Store {
	return &replicatedStore{node: n, id: contextID}
}

type replicatedStore struct {
	node *Node
	id   string
}

func (s *replicatedStore) Get(key string) (types.Value, error) {
	if key == "" {
		return types.Absent(), types.ErrKeyRequired
	}
	return s.node.fsm.Get(key), nil
}

func (s *replicatedStore) Set(key, value string) error {
	_, err := s.node.Apply(types.SetCmd{Writer: s.id, Key: key, Value: value})
	return err
}

func (s *replicatedStore) Remove(key string) error {
	_, err := s.node.Apply(types.RemoveCmd{Writer: s.id, Key: key})
	return err
}

func (s *replicatedStore) Subscribe(h store.Handler) (store.Subscription, error) {
	q := queue.New(func(c types.Change) { h(c) })
	cancel := s.node.fsm.Listen(func(c types.Change) {
		if c.Writer == s.id {
			return
		}
		q.Push(c)
	})

	var once sync.Once
	return store.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			q.Close()
		})
		return nil
	}), nil
}
