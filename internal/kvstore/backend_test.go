package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(t.TempDir(), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestWriteTxnPutGetDelete(t *testing.T) {
	b := openTestBackend(t)

	w := b.BeginWrite()
	require.NoError(t, w.Put(TableRoot, []byte("k1"), []byte("v1")))
	v, ok, err := w.Get(TableRoot, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
	require.NoError(t, w.Commit())

	r := b.BeginRead()
	defer r.Discard()
	v, ok, err = r.Get(TableRoot, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	w2 := b.BeginWrite()
	require.NoError(t, w2.Delete(TableRoot, []byte("k1")))
	require.NoError(t, w2.Commit())

	r2 := b.BeginRead()
	defer r2.Discard()
	_, ok, err = r2.Get(TableRoot, []byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTablesAreIndependentKeyspaces(t *testing.T) {
	b := openTestBackend(t)

	w := b.BeginWrite()
	require.NoError(t, w.Put(TableRoot, []byte("x"), []byte("root-value")))
	require.NoError(t, w.Put(TableStow, []byte("x"), []byte("stow-value")))
	require.NoError(t, w.Commit())

	r := b.BeginRead()
	defer r.Discard()

	v, ok, err := r.Get(TableRoot, []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("root-value"), v)

	v, ok, err = r.Get(TableStow, []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("stow-value"), v)
}

func TestPutIfAbsent(t *testing.T) {
	b := openTestBackend(t)

	w := b.BeginWrite()
	wrote, err := w.PutIfAbsent(TableStow, []byte("s"), []byte("first"))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = w.PutIfAbsent(TableStow, []byte("s"), []byte("second"))
	require.NoError(t, err)
	assert.False(t, wrote)

	v, ok, err := w.Get(TableStow, []byte("s"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("first"), v)
	require.NoError(t, w.Commit())
}

func TestCursorIteratesInOrderWithinTable(t *testing.T) {
	b := openTestBackend(t)

	w := b.BeginWrite()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, w.Put(TableZero, []byte(k), nil))
	}
	require.NoError(t, w.Commit())

	r := b.BeginRead()
	defer r.Discard()

	cur := r.Cursor(TableZero, nil)
	defer cur.Close()

	var seen []string
	for ok := cur.First(); ok; ok = cur.Next() {
		seen = append(seen, string(cur.Key()))
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestViewIsZeroCopyDuringCallback(t *testing.T) {
	b := openTestBackend(t)

	w := b.BeginWrite()
	require.NoError(t, w.Put(TableRoot, []byte("view"), []byte("zero-copy-value")))
	require.NoError(t, w.Commit())

	r := b.BeginRead()
	defer r.Discard()

	var seen []byte
	ok, err := r.View(TableRoot, []byte("view"), func(val []byte) error {
		seen = append([]byte{}, val...)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("zero-copy-value"), seen)
}
