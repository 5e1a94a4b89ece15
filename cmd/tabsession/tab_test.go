package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/config"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunTab(t *testing.T) {
	m := store.NewMedium()
	other := m.Attach("other")
	require.NoError(t, other.Set("app_session", types.ActiveMarker))
	require.NoError(t, other.Set("app_session_tab", "other"))

	var out syncBuffer
	err := runTab(context.Background(), tabOptions{
		Backend:   m,
		ContextID: "me",
		Keys:      types.DefaultKeys(),
		Logger:    hclog.NewNullLogger(),
		In:        strings.NewReader("status\nclaim\nstatus\nbogus\nrelease\nquit\nclaim\n"),
		Out:       &out,
	})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "context me is observing")
	assert.Contains(t, got, "\nobserving\n")
	assert.Contains(t, got, "\nowner\n")
	assert.Contains(t, got, "observing -> owner")
	assert.Contains(t, got, `unknown command "bogus"`)
	assert.Empty(t, m.Snapshot(), "quit stops before the trailing claim")
}

func TestRunTabReleasesOnEOF(t *testing.T) {
	m := store.NewMedium()

	err := runTab(context.Background(), tabOptions{
		Backend:   m,
		ContextID: "me",
		Keys:      types.DefaultKeys(),
		Logger:    hclog.NewNullLogger(),
		In:        strings.NewReader(""),
		Out:       &syncBuffer{},
	})
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot())
}

func TestRunTabPrintsFinalRelease(t *testing.T) {
	m := store.NewMedium()
	var out syncBuffer

	err := runTab(context.Background(), tabOptions{
		Backend:   m,
		ContextID: "me",
		Keys:      types.DefaultKeys(),
		Logger:    hclog.NewNullLogger(),
		In:        strings.NewReader("quit\n"),
		Out:       &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "owner -> unclaimed")
}

func TestRunTabReleasesOnTermination(t *testing.T) {
	m := store.NewMedium()
	in, stdin := io.Pipe()
	defer stdin.Close()
	var out syncBuffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runTab(ctx, tabOptions{
			Backend:   m,
			ContextID: "me",
			Keys:      types.DefaultKeys(),
			Logger:    hclog.NewNullLogger(),
			In:        in,
			Out:       &out,
		})
	}()

	require.Eventually(t, func() bool {
		return m.Snapshot()["app_session_tab"] == "me"
	}, time.Second, 5*time.Millisecond)

	//input is still open, as it is when a signal arrives
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tab did not stop on termination")
	}
	assert.Empty(t, m.Snapshot(), "a terminated owner leaves no record behind")
	assert.Contains(t, out.String(), "owner -> unclaimed")
}

func TestTabConfigValidatesFlags(t *testing.T) {
	base, err := config.Load()
	require.NoError(t, err)

	cfg, err := tabConfig(base, "billing_session", "billing_tab", time.Second, "debug")
	require.NoError(t, err)
	assert.Equal(t, types.Keys{Session: "billing_session", Owner: "billing_tab"}, cfg.Keys())
	assert.Equal(t, hclog.Debug, cfg.Level())

	_, err = tabConfig(base, "", "billing_tab", time.Second, "info")
	assert.Error(t, err, "empty key")
	_, err = tabConfig(base, "same", "same", time.Second, "info")
	assert.Error(t, err, "identical keys")
	_, err = tabConfig(base, "s", "o", 0, "info")
	assert.Error(t, err, "zero timeout")
}

func TestMetricsExposeCoordinatorActivity(t *testing.T) {
	m := store.NewMedium()
	err := runTab(context.Background(), tabOptions{
		Backend:   m,
		ContextID: "me",
		Keys:      types.DefaultKeys(),
		Logger:    hclog.NewNullLogger(),
		In:        strings.NewReader("release\nclaim\n"),
		Out:       &syncBuffer{},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `tabsession_claims_total{status="success"}`)
	assert.Contains(t, body, "tabsession_releases_total")
	assert.Contains(t, body, `tabsession_status_transitions_total{to="owner"}`)
	assert.Contains(t, body, "tabsession_owned_sessions")
}

func TestParsePeers(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	peers, err := parsePeers(a.String() + "@127.0.0.1:7001, " + b.String() + "@127.0.0.1:7002")
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{a: "127.0.0.1:7001", b: "127.0.0.1:7002"}, peers)

	peers, err = parsePeers("")
	require.NoError(t, err)
	assert.Empty(t, peers)

	_, err = parsePeers("nope")
	assert.Error(t, err)
	_, err = parsePeers("not-a-uuid@127.0.0.1:7001")
	assert.Error(t, err)
}

func TestParseNodeID(t *testing.T) {
	id, err := parseNodeID("")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	want := uuid.New()
	id, err = parseNodeID(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, id)

	_, err = parseNodeID("node-1")
	assert.Error(t, err)
}
