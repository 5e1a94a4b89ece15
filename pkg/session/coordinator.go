// Package session decides which of many contexts sharing one store holds
// the session.
//
// Ownership is not negotiated: the most recent claim any context observes
// wins. Two contexts claiming at nearly the same moment may both be Owner
// until each handles the other's notification; after that exactly the one
// whose write the store kept remains Owner.
package session

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/identity"
	"github.com/pixperk/tabsession/pkg/metrics"
	"github.com/pixperk/tabsession/pkg/queue"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/time"
	"github.com/pixperk/tabsession/pkg/types"
)

type Config struct {
	Store    store.Store        //this context's handle on the shared medium
	Identity identity.Generator //mints the context token, uuid v4 if nil
	Logger   hclog.Logger       //null logger if nil
	Keys     types.Keys         //record keys, DefaultKeys if zero
}

// Coordinator is one context's side of the ownership protocol.
// All methods are safe for concurrent use and never fail from the
// caller's point of view.
type Coordinator struct {
	id     string
	keys   types.Keys
	store  *store.Safe
	logger hclog.Logger
	clock  *time.Clock

	mu        sync.Mutex
	status    types.Status
	started   bool
	closed    bool
	sub       store.Subscription
	watchers  map[uint64]*queue.Queue[types.Event]
	nextWatch uint64
}

func New(cfg *Config) *Coordinator {
	gen := cfg.Identity
	if gen == nil {
		gen = identity.UUID{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	keys := cfg.Keys
	if keys == (types.Keys{}) {
		keys = types.DefaultKeys()
	}

	id := gen.NewToken()
	if id == "" {
		//an empty owner is indistinguishable from no owner
		id = identity.UUID{}.NewToken()
		logger.Warn("identity generator returned an empty token, using a random one")
	}
	logger = logger.Named("session").With("context", id)

	return &Coordinator{
		id:       id,
		keys:     keys,
		store:    store.NewSafe(cfg.Store, logger),
		logger:   logger,
		clock:    time.NewClock(),
		status:   types.StatusUnclaimed,
		watchers: make(map[uint64]*queue.Queue[types.Event]),
	}
}

// ID returns this context's identity token.
func (c *Coordinator) ID() string {
	return c.id
}

func (c *Coordinator) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start runs the initialization protocol once: attach to foreign changes,
// then resume, observe or claim depending on the stored record.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	//subscribe before reading so a claim racing with our read is not lost;
	//its handler waits on mu and re-evaluates after us
	sub, ok := c.store.Subscribe(c.handleChange)
	if !ok {
		c.logger.Warn("cannot observe other contexts, foreign claims will go unnoticed")
	}
	c.sub = sub

	record := c.readRecord()
	switch owner := record.OwnerID(); {
	case owner == c.id:
		c.logger.Debug("resuming ownership from stored record")
		c.setStatus(types.StatusOwner)
	case owner != "":
		c.logger.Debug("session held by another context", "owner", owner)
		c.setStatus(types.StatusObservingForeignOwner)
	default:
		if record.Active.Set || record.Owner.Set {
			c.logger.Debug("ignoring malformed ownership record",
				"active", record.Active.Data, "owner", record.Owner.Data)
		}
		c.claim()
	}
}

// Claim takes the session for this context, demoting whoever held it once
// they see the write.
func (c *Coordinator) Claim() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.claim()
}

// Release gives the session up. It does nothing unless this context is
// Owner, so a stale owner can never evict the real one.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.release()
}

// Close terminates the context: release if owning, detach from the store,
// then deliver every pending status event before returning. Safe to call
// more than once, but not from inside a Watch callback.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.release()
	c.closed = true
	sub := c.sub
	c.sub = nil
	watchers := c.watchers
	c.watchers = make(map[uint64]*queue.Queue[types.Event])
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			c.logger.Warn("failed to detach from shared store", "error", err)
		}
	}
	for _, q := range watchers {
		q.Stop()
	}
	for _, q := range watchers {
		<-q.Done()
	}
}

// Watch registers fn for status transitions. Calls happen on a dedicated
// goroutine, in the order the transitions occurred. The returned function
// unregisters fn.
func (c *Coordinator) Watch(fn func(types.Event)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}

	c.nextWatch++
	id := c.nextWatch
	q := queue.New(fn)
	c.watchers[id] = q

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
		q.Close()
	}
}

// must hold mu
func (c *Coordinator) claim() {
	//flag first, owner last: other contexts react to the owner key only
	if !c.store.Set(c.keys.Session, types.ActiveMarker) || !c.store.Set(c.keys.Owner, c.id) {
		metrics.ClaimsTotal.WithLabelValues("failure").Inc()
		c.setStatus(types.StatusUnclaimed)
		return
	}
	metrics.ClaimsTotal.WithLabelValues("success").Inc()
	c.setStatus(types.StatusOwner)
}

// must hold mu
func (c *Coordinator) release() {
	if c.status != types.StatusOwner {
		return
	}
	//a demotion may still be in flight; never remove someone else's record
	if owner := c.store.Get(c.keys.Owner); owner.Set && owner.Data != c.id {
		c.logger.Info("not releasing, session was claimed by another context", "owner", owner.Data)
		c.setStatus(types.StatusObservingForeignOwner)
		return
	}
	if c.store.Remove(c.keys.Session) && c.store.Remove(c.keys.Owner) {
		metrics.ReleasesTotal.Inc()
	}
	c.setStatus(types.StatusUnclaimed)
}

// must hold mu
func (c *Coordinator) readRecord() types.Record {
	return types.Record{
		Active: c.store.Get(c.keys.Session),
		Owner:  c.store.Get(c.keys.Owner),
	}
}

func (c *Coordinator) handleChange(change types.Change) {
	if change.Key != c.keys.Owner {
		return
	}
	metrics.NotificationsTotal.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	//notifications queue up behind our own writes; the store has the last word
	owner := change.New
	if current := c.store.Get(c.keys.Owner); current != owner {
		c.logger.Debug("notification superseded by a later write",
			"notified", owner.Data, "stored", current.Data)
		owner = current
	}

	switch {
	case !owner.Set || owner.Data == "":
		c.setStatus(types.StatusUnclaimed)
	case owner.Data == c.id:
		c.setStatus(types.StatusOwner)
	default:
		if c.status == types.StatusOwner {
			metrics.DemotionsTotal.Inc()
			c.logger.Info("session claimed by another context", "owner", owner.Data)
		}
		c.setStatus(types.StatusObservingForeignOwner)
	}
}

// must hold mu
func (c *Coordinator) setStatus(to types.Status) {
	from := c.status
	if from == to {
		return
	}
	c.status = to

	metrics.StatusTransitionsTotal.WithLabelValues(to.String()).Inc()
	switch {
	case to == types.StatusOwner:
		metrics.OwnedSessions.Inc()
	case from == types.StatusOwner:
		metrics.OwnedSessions.Dec()
	}
	c.logger.Debug("status changed", "from", from.String(), "to", to.String())

	ev := types.Event{From: from, To: to, At: c.clock.Elapsed()}
	for _, q := range c.watchers {
		q.Push(ev)
	}
}
