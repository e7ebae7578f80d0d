package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awelon/stowdb/internal/ephemeron"
	"github.com/awelon/stowdb/internal/hashid"
	"github.com/awelon/stowdb/internal/kvstore"
)

func newTestWriter(t *testing.T) (*Writer, *kvstore.Backend, *StowBuffer, *ephemeron.Table) {
	t.Helper()
	backend, err := kvstore.Open(t.TempDir(), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	eph := ephemeron.New()
	stow := NewStowBuffer()
	frames := kvstore.NewFrameSet()
	w := New(backend, eph, stow, frames, nil)
	return w, backend, stow, eph
}

func readRoot(t *testing.T, b *kvstore.Backend, key string) ([]byte, bool) {
	t.Helper()
	r := b.BeginRead()
	defer r.Discard()
	v, ok, err := r.Get(kvstore.TableRoot, []byte(key))
	require.NoError(t, err)
	return v, ok
}

func TestCycleAppliesAcceptedWrite(t *testing.T) {
	w, backend, _, _ := newTestWriter(t)

	reply := make(chan bool, 1)
	w.Submit(&CommitRequest{
		Write: map[string][]byte{"k": []byte("v1")},
		Reply: reply,
	})

	capped := w.cycle()
	assert.False(t, capped)
	assert.True(t, <-reply)

	v, ok := readRoot(t, backend, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestCycleRejectsStaleReadAssumption(t *testing.T) {
	w, backend, _, _ := newTestWriter(t)

	reply1 := make(chan bool, 1)
	w.Submit(&CommitRequest{Write: map[string][]byte{"k": []byte("1")}, Reply: reply1})
	w.cycle()
	require.True(t, <-reply1)

	reply2 := make(chan bool, 1)
	w.Submit(&CommitRequest{
		Read:  map[string][]byte{"k": nil}, // stale: k is now "1", not absent
		Write: map[string][]byte{"k": []byte("2")},
		Reply: reply2,
	})
	w.cycle()
	assert.False(t, <-reply2)

	v, ok := readRoot(t, backend, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestCycleMigratesStowedBlobIntoStowTable(t *testing.T) {
	w, backend, stow, _ := newTestWriter(t)

	h := hashid.New([]byte("payload"))
	stow.Put(h, []byte("payload"))

	w.cycle()

	r := backend.BeginRead()
	defer r.Discard()
	val, ok, err := r.Get(kvstore.TableStow, h.Short())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h.Suffix(), val[:hashid.H/2])
	assert.Equal(t, []byte("payload"), val[hashid.H/2:])

	_, buffered := stow.Get(h.ShortString())
	assert.False(t, buffered)
}

func TestCycleGarbageCollectsUnreferencedResource(t *testing.T) {
	w, backend, stow, _ := newTestWriter(t)

	h := hashid.New([]byte("orphan"))
	stow.Put(h, []byte("orphan"))
	w.cycle()

	r := backend.BeginRead()
	_, ok, err := r.Get(kvstore.TableStow, h.Short())
	r.Discard()
	require.NoError(t, err)
	require.True(t, ok, "resource must be persisted before it can be collected")

	for capped := true; capped; {
		capped = w.cycle()
	}

	r2 := backend.BeginRead()
	defer r2.Discard()
	_, ok, err = r2.Get(kvstore.TableStow, h.Short())
	require.NoError(t, err)
	assert.False(t, ok, "unreferenced resource should be collected once it is in the ZeroSet")
}

func TestCycleHoldsEphemeronProtectedResource(t *testing.T) {
	w, backend, stow, eph := newTestWriter(t)

	h := hashid.New([]byte("held"))
	stow.Put(h, []byte("held"))
	eph.Add(map[string]int{h.ShortString(): 1})

	w.cycle() // persists the resource and registers its zero refcount
	w.cycle() // would collect it next cycle if the ephemeron hold didn't exclude it

	r := backend.BeginRead()
	defer r.Discard()
	_, ok, err := r.Get(kvstore.TableStow, h.Short())
	require.NoError(t, err)
	assert.True(t, ok, "an ephemeron-held resource must survive GC")
}
