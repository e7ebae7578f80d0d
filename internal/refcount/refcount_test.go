package refcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awelon/stowdb/internal/kvstore"
)

func openTestBackend(t *testing.T) *kvstore.Backend {
	t.Helper()
	b, err := kvstore.Open(t.TempDir(), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSetAndGetRoundTrip(t *testing.T) {
	b := openTestBackend(t)
	w := b.BeginWrite()
	defer w.Discard()

	require.NoError(t, Set(w, []byte("abc"), 3))
	n, err := Get(w, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGetOfAbsentShortHashIsZero(t *testing.T) {
	b := openTestBackend(t)
	w := b.BeginWrite()
	defer w.Discard()

	n, err := Get(w, []byte("nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetToZeroMovesIntoZeroSet(t *testing.T) {
	b := openTestBackend(t)
	w := b.BeginWrite()
	defer w.Discard()

	require.NoError(t, Set(w, []byte("abc"), 2))
	require.NoError(t, Set(w, []byte("abc"), 0))

	_, exists, err := w.Get(kvstore.TableRC, []byte("abc"))
	require.NoError(t, err)
	assert.False(t, exists)

	_, exists, err = w.Get(kvstore.TableZero, []byte("abc"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSetNegativePanics(t *testing.T) {
	b := openTestBackend(t)
	w := b.BeginWrite()
	defer w.Discard()

	require.NoError(t, Set(w, []byte("abc"), 0))
	assert.Panics(t, func() {
		_ = Set(w, []byte("abc"), -1)
	})
}

func TestTakeSkipsExcludedAndCapsAtK(t *testing.T) {
	b := openTestBackend(t)
	w := b.BeginWrite()
	defer w.Discard()

	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, Set(w, []byte(s), 1))
		require.NoError(t, Set(w, []byte(s), 0))
	}

	exclude := func(s string) bool { return s == "b" }
	out, err := Take(w, 2, exclude)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, s := range out {
		assert.NotEqual(t, "b", string(s))
	}
}
