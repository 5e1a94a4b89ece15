package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger() (hclog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return hclog.New(&hclog.LoggerOptions{Name: "test", Output: &buf, Level: hclog.Debug}), &buf
}

func TestSafeAbsorbsFailures(t *testing.T) {
	m := NewMedium()
	require.NoError(t, m.Attach("seed").Set("k", "v"))

	logger, buf := bufferLogger()
	s := NewSafe(m.Attach("a"), logger)

	m.SetFault(func(Op, string) error { return errors.New("access denied") })

	assert.False(t, s.Get("k").Set, "failed read looks absent")
	assert.False(t, s.Set("k", "x"))
	assert.False(t, s.Remove("k"))

	sub, ok := s.Subscribe(func(types.Change) {})
	assert.False(t, ok)
	require.NotNil(t, sub)
	assert.NoError(t, sub.Close())

	assert.Equal(t, map[string]string{"k": "v"}, m.Snapshot())
	assert.Contains(t, buf.String(), "shared store operation failed")
	assert.Contains(t, buf.String(), "access denied")
}

func TestSafePassesThrough(t *testing.T) {
	m := NewMedium()
	s := NewSafe(m.Attach("a"), nil)

	assert.True(t, s.Set("k", "v"))
	assert.Equal(t, types.Present("v"), s.Get("k"))
	assert.True(t, s.Remove("k"))
	assert.False(t, s.Get("k").Set)

	sub, ok := s.Subscribe(func(types.Change) {})
	assert.True(t, ok)
	assert.NoError(t, sub.Close())
}

type panickyStore struct{ Store }

func (panickyStore) Set(string, string) error { panic("storage backend exploded") }

func TestSafeRecoversPanics(t *testing.T) {
	logger, buf := bufferLogger()
	s := NewSafe(panickyStore{NewMedium().Attach("a")}, logger)

	assert.NotPanics(t, func() {
		assert.False(t, s.Set("k", "v"))
	})
	assert.Contains(t, buf.String(), "storage backend exploded")
}
