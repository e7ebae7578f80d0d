package writer

import (
	"sync"

	"github.com/awelon/stowdb/internal/hashid"
)

// Entry is one blob waiting to migrate from the volatile StowBuffer into
// the persistent StowTable.
type Entry struct {
	Hash hashid.Hash
	Blob []byte
}

// StowBuffer holds resources stowed but not yet visible to the backend's
// read transactions, keyed by shortHash. It is mutated by client TXs
// (Put, on stow) and by the writer (RemoveAll, once an entry has migrated
// into StowTable) -- the single mutex spec.md §5 calls for.
type StowBuffer struct {
	mu sync.Mutex
	m  map[string]Entry
}

// NewStowBuffer returns an empty buffer.
func NewStowBuffer() *StowBuffer {
	return &StowBuffer{m: make(map[string]Entry)}
}

// Put inserts or overwrites the buffered blob for h's shortHash. Content
// addressing means a second Put for the same hash is a no-op in substance,
// but we still refresh the buffer so a dropped-then-restowed blob stays
// visible immediately.
func (b *StowBuffer) Put(h hashid.Hash, blob []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[h.ShortString()] = Entry{Hash: h, Blob: blob}
}

// Get returns the buffered entry for shortHash, if any.
func (b *StowBuffer) Get(shortHash string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.m[shortHash]
	return e, ok
}

// Snapshot returns a shallow copy of the buffer's current contents for the
// writer to fold into a batching cycle.
func (b *StowBuffer) Snapshot() map[string]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Entry, len(b.m))
	for k, v := range b.m {
		out[k] = v
	}
	return out
}

// RemoveAll drops the given shortHashes once the writer has migrated them
// into StowTable.
func (b *StowBuffer) RemoveAll(shortHashes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range shortHashes {
		delete(b.m, h)
	}
}
