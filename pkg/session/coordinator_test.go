package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/identity"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = types.DefaultKeys()

// opens a context named id on the medium without starting it
func newTab(t *testing.T, m *store.Medium, id string) *Coordinator {
	t.Helper()
	c := New(&Config{
		Store:    m.Attach(id),
		Identity: identity.Fixed(id),
	})
	t.Cleanup(c.Close)
	return c
}

func startTab(t *testing.T, m *store.Medium, id string) *Coordinator {
	t.Helper()
	c := newTab(t, m, id)
	c.Start()
	return c
}

// counts writes reaching the medium
func countWrites(m *store.Medium) func() int {
	var (
		mu     sync.Mutex
		writes int
	)
	m.SetFault(func(op store.Op, _ string) error {
		if op == store.OpSet || op == store.OpRemove {
			mu.Lock()
			writes++
			mu.Unlock()
		}
		return nil
	})
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return writes
	}
}

func TestInitialUncontestedClaim(t *testing.T) {
	m := store.NewMedium()

	x := startTab(t, m, "x")

	assert.Equal(t, types.StatusOwner, x.Status())
	assert.Equal(t, map[string]string{
		keys.Session: types.ActiveMarker,
		keys.Owner:   "x",
	}, m.Snapshot())
}

func TestReloadResumesOwnership(t *testing.T) {
	m := store.NewMedium()
	seed := m.Attach("seed")
	require.NoError(t, seed.Set(keys.Session, types.ActiveMarker))
	require.NoError(t, seed.Set(keys.Owner, "c"))

	writes := countWrites(m)
	c := startTab(t, m, "c")

	assert.Equal(t, types.StatusOwner, c.Status())
	assert.Zero(t, writes(), "resuming must not write")
}

func TestForeignOwnerObserved(t *testing.T) {
	m := store.NewMedium()
	seed := m.Attach("seed")
	require.NoError(t, seed.Set(keys.Session, types.ActiveMarker))
	require.NoError(t, seed.Set(keys.Owner, "other"))

	writes := countWrites(m)
	c := startTab(t, m, "c")

	assert.Equal(t, types.StatusObservingForeignOwner, c.Status())
	assert.Zero(t, writes(), "observing must not write")
}

func TestMalformedRecordIsClaimed(t *testing.T) {
	tests := []struct {
		name string
		seed map[string]string
	}{
		{"owner without flag", map[string]string{keys.Owner: "other"}},
		{"flag without owner", map[string]string{keys.Session: types.ActiveMarker}},
		{"unknown flag value", map[string]string{keys.Session: "closed", keys.Owner: "other"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := store.NewMedium()
			seed := m.Attach("seed")
			for k, v := range tt.seed {
				require.NoError(t, seed.Set(k, v))
			}

			c := startTab(t, m, "c")
			assert.Equal(t, types.StatusOwner, c.Status())
			assert.Equal(t, "c", m.Snapshot()[keys.Owner])
		})
	}
}

func TestClaimDemotesOthers(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")
	require.Equal(t, types.StatusOwner, a.Status())
	require.Equal(t, types.StatusObservingForeignOwner, b.Status())

	b.Claim()
	assert.Equal(t, types.StatusOwner, b.Status(), "claimer is owner immediately")

	m.Settle()
	assert.Equal(t, types.StatusObservingForeignOwner, a.Status())
	assert.Equal(t, types.StatusOwner, b.Status())
	assert.Equal(t, "b", m.Snapshot()[keys.Owner])
}

func TestReclaimAfterDemotion(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")

	b.Claim()
	m.Settle()
	a.Claim()
	m.Settle()

	assert.Equal(t, types.StatusOwner, a.Status())
	assert.Equal(t, types.StatusObservingForeignOwner, b.Status())
}

func TestReleaseClearsAndDoesNotResurrect(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")
	c := startTab(t, m, "c")

	a.Release()
	assert.Equal(t, types.StatusUnclaimed, a.Status())
	assert.Empty(t, m.Snapshot())

	m.Settle()
	assert.Equal(t, types.StatusUnclaimed, b.Status())
	assert.Equal(t, types.StatusUnclaimed, c.Status())
	assert.Empty(t, m.Snapshot(), "nobody reclaims on their own")
}

func TestReleaseIsSafeWhenNotOwner(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")

	before := m.Snapshot()
	writes := countWrites(m)

	b.Release()
	m.Settle()
	assert.Equal(t, before, m.Snapshot())
	assert.Equal(t, types.StatusOwner, a.Status())
	assert.Equal(t, types.StatusObservingForeignOwner, b.Status())

	a.Release()
	m.Settle()
	require.Equal(t, types.StatusUnclaimed, b.Status())
	writesAfterOwnerRelease := writes()

	b.Release()
	m.Settle()
	assert.Equal(t, writesAfterOwnerRelease, writes(), "unclaimed release must not write")
	assert.Equal(t, types.StatusUnclaimed, b.Status())
}

func TestTerminationReleases(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")

	a.Close()
	assert.Empty(t, m.Snapshot())
	m.Settle()
	assert.Equal(t, types.StatusUnclaimed, b.Status())

	//a fresh context takes the uncontested path and writes a new record
	writes := countWrites(m)
	fresh := startTab(t, m, "a")
	assert.Equal(t, types.StatusOwner, fresh.Status())
	assert.Equal(t, 2, writes(), "fresh context must claim, not resume")
}

func TestTerminationOfObserverKeepsRecord(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")

	b.Close()
	assert.Equal(t, "a", m.Snapshot()[keys.Owner])
	assert.Equal(t, types.StatusOwner, a.Status())
	assert.Equal(t, 1, m.Subscribers(), "closed context detaches")
}

func TestClosedCoordinatorIgnoresOperations(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	a.Close()
	a.Close()

	a.Claim()
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, types.StatusUnclaimed, a.Status())

	//late notifications are ignored too
	b := startTab(t, m, "b")
	m.Settle()
	assert.Equal(t, types.StatusOwner, b.Status())
	assert.Equal(t, types.StatusUnclaimed, a.Status())
}

func TestScenario(t *testing.T) {
	m := store.NewMedium()

	x := startTab(t, m, "x")
	assert.Equal(t, types.StatusOwner, x.Status())
	assert.Equal(t, map[string]string{keys.Session: types.ActiveMarker, keys.Owner: "x"}, m.Snapshot())

	y := startTab(t, m, "y")
	assert.Equal(t, types.StatusObservingForeignOwner, y.Status())

	y.Claim()
	assert.Equal(t, types.StatusOwner, y.Status())
	assert.Equal(t, map[string]string{keys.Session: types.ActiveMarker, keys.Owner: "y"}, m.Snapshot())
	m.Settle()
	assert.Equal(t, types.StatusObservingForeignOwner, x.Status())

	x.Release()
	assert.Equal(t, map[string]string{keys.Session: types.ActiveMarker, keys.Owner: "y"}, m.Snapshot())

	y.Release()
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, types.StatusUnclaimed, y.Status())
	m.Settle()
	assert.Equal(t, types.StatusUnclaimed, x.Status())
}

func TestConcurrentClaimsConverge(t *testing.T) {
	m := store.NewMedium()
	tabs := make([]*Coordinator, 8)
	for i := range tabs {
		tabs[i] = newTab(t, m, string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for _, tab := range tabs {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Start()
			c.Claim()
		}(tab)
	}
	wg.Wait()
	m.Settle()

	winner := m.Snapshot()[keys.Owner]
	owners := 0
	for _, tab := range tabs {
		if tab.Status() == types.StatusOwner {
			owners++
			assert.Equal(t, winner, tab.ID(), "only the stored owner may remain owner")
		}
	}
	assert.Equal(t, 1, owners)
}

func TestCustomKeys(t *testing.T) {
	m := store.NewMedium()
	custom := types.Keys{Session: "billing_session", Owner: "billing_tab"}
	c := New(&Config{Store: m.Attach("a"), Identity: identity.Fixed("a"), Keys: custom})
	defer c.Close()
	c.Start()

	assert.Equal(t, map[string]string{"billing_session": types.ActiveMarker, "billing_tab": "a"}, m.Snapshot())
}

func TestDefaultIdentityIsRandom(t *testing.T) {
	m := store.NewMedium()
	a := New(&Config{Store: m.Attach("a")})
	b := New(&Config{Store: m.Attach("b"), Identity: identity.Fixed("")})

	assert.NotEmpty(t, a.ID())
	assert.NotEmpty(t, b.ID(), "empty tokens are replaced")
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestStorageUnavailable(t *testing.T) {
	m := store.NewMedium()
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})

	m.SetFault(func(op store.Op, _ string) error {
		if op == store.OpSubscribe {
			return nil
		}
		return errors.New("quota exceeded")
	})

	c := New(&Config{Store: m.Attach("a"), Identity: identity.Fixed("a"), Logger: logger})
	defer c.Close()

	assert.NotPanics(t, c.Start)
	assert.Equal(t, types.StatusUnclaimed, c.Status(), "a failed claim leaves no owner")

	c.Claim()
	assert.Equal(t, types.StatusUnclaimed, c.Status())
	assert.Empty(t, m.Snapshot())
	assert.Contains(t, buf.String(), "quota exceeded")

	//medium recovers, the next claim lands
	m.SetFault(nil)
	c.Claim()
	assert.Equal(t, types.StatusOwner, c.Status())
	assert.Equal(t, "a", m.Snapshot()[keys.Owner])
}

func TestListenerRegistrationFailure(t *testing.T) {
	m := store.NewMedium()
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})

	m.SetFault(func(op store.Op, _ string) error {
		if op == store.OpSubscribe {
			return errors.New("events disabled")
		}
		return nil
	})

	a := New(&Config{Store: m.Attach("a"), Identity: identity.Fixed("a"), Logger: logger})
	defer a.Close()
	a.Start()
	assert.Equal(t, types.StatusOwner, a.Status(), "local operation still works")
	assert.Contains(t, buf.String(), "foreign claims will go unnoticed")

	m.SetFault(nil)
	b := startTab(t, m, "b")
	b.Claim()
	m.Settle()

	//degraded: a cannot see b's claim
	assert.Equal(t, types.StatusOwner, a.Status())

	//but it still will not evict b
	a.Release()
	assert.Equal(t, types.StatusObservingForeignOwner, a.Status())
	assert.Equal(t, "b", m.Snapshot()[keys.Owner])
}

func TestStaleOwnerReleaseBeforeNotification(t *testing.T) {
	m := store.NewMedium()
	x := startTab(t, m, "x")
	y := startTab(t, m, "y")

	//x releases while y's claim notification is still queued
	y.Claim()
	x.Release()

	assert.Equal(t, "y", m.Snapshot()[keys.Owner], "stale owner must not evict the new one")
	m.Settle()
	assert.Equal(t, types.StatusObservingForeignOwner, x.Status())
	assert.Equal(t, types.StatusOwner, y.Status())
}

func TestStaleNotificationDoesNotDemoteLatestClaimer(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")
	b := startTab(t, m, "b")

	//b's queue holds a's claim while b claims on top of it
	a.Claim()
	b.Claim()
	a.Claim()
	b.Claim()
	m.Settle()

	assert.Equal(t, types.StatusOwner, b.Status())
	assert.Equal(t, types.StatusObservingForeignOwner, a.Status())
}

func TestIgnoresUnrelatedKeys(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")

	other := m.Attach("b")
	require.NoError(t, other.Set("unrelated", "x"))
	require.NoError(t, other.Remove(keys.Session))
	m.Settle()

	assert.Equal(t, types.StatusOwner, a.Status(), "only the owner key drives transitions")
}

func TestWatchDeliversTransitionsInOrder(t *testing.T) {
	m := store.NewMedium()
	a := newTab(t, m, "a")

	var (
		mu     sync.Mutex
		events []types.Event
	)
	cancel := a.Watch(func(ev types.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	a.Start()
	b := startTab(t, m, "b")
	b.Claim()
	m.Settle()
	b.Release()
	m.Settle()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.StatusUnclaimed, events[0].From)
	assert.Equal(t, types.StatusOwner, events[0].To)
	assert.Equal(t, types.StatusObservingForeignOwner, events[1].To)
	assert.Equal(t, types.StatusUnclaimed, events[2].To)
	assert.LessOrEqual(t, events[0].At, events[1].At)
	assert.LessOrEqual(t, events[1].At, events[2].At)
}

func TestWatchSeesReleaseOnClose(t *testing.T) {
	m := store.NewMedium()
	a := startTab(t, m, "a")

	got := make(chan types.Event, 4)
	a.Watch(func(ev types.Event) { got <- ev })

	a.Close()

	//delivered before Close returns
	require.Len(t, got, 1, "closing owner must report its release")
	ev := <-got
	assert.Equal(t, types.StatusOwner, ev.From)
	assert.Equal(t, types.StatusUnclaimed, ev.To)
}

func TestWatchCancel(t *testing.T) {
	m := store.NewMedium()
	a := newTab(t, m, "a")

	got := make(chan types.Event, 4)
	cancel := a.Watch(func(ev types.Event) { got <- ev })
	cancel()

	a.Start()
	select {
	case ev := <-got:
		t.Fatalf("unexpected event after cancel: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}
