package stowdb

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/awelon/stowdb/internal/hashid"
	"github.com/awelon/stowdb/internal/kvstore"
	"github.com/awelon/stowdb/internal/writer"
)

// TX is a client-facing transaction: buffered reads and writes over
// RootTable, a stowage buffer for as-yet-uncommitted blobs, and the set of
// shortHashes this TX itself holds live in the ephemeron table.
//
// Grounded on the teacher's pkg/cas.CAS facade (StoreBlob/GetBlob delegating
// to a dataRouter interface), generalized to the full read/write/stow/load/
// withRsc/clearRsc/commit/dup/check contract of spec.md §4.5. A TX is safe
// to share between goroutines; its own mutex serialises their calls
// (spec.md §5: "exclusive lock per TX").
type TX struct {
	db *DB

	mu sync.Mutex

	readSet  map[string][]byte
	writeSet map[string][]byte
	origKeys map[string][]byte

	eph map[string]int

	dropped bool
}

// Read returns key's current value, preferring the TX's own write set,
// then its read set, then the backend. A backend hit records the read
// assumption and bumps ephemerons for every hash the value mentions, per
// spec.md §4.5's read-mode decision rule.
func (tx *TX) Read(key []byte) ([]byte, error) {
	nk := normalizeKey(key)
	sk := string(nk)

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if v, ok := tx.writeSet[sk]; ok {
		return cloneBytes(v), nil
	}
	if v, ok := tx.readSet[sk]; ok {
		return cloneBytes(v), nil
	}

	var val []byte
	err := tx.db.withReadLock(func(r *kvstore.RTxn) error {
		v, exists, err := r.Get(kvstore.TableRoot, nk)
		if err != nil {
			return err
		}
		if exists {
			val = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stowdb: read: %w", err)
	}

	tx.recordReadLocked(sk, key, val)
	return cloneBytes(val), nil
}

// ReadMany fetches any of keys not already buffered in the TX's write or
// read sets under a single backend read transaction, so the whole batch
// observes one snapshot (spec.md §8 scenario 3).
func (tx *TX) ReadMany(keys [][]byte) ([][]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	out := make([][]byte, len(keys))
	var missing []int
	normKeys := make([][]byte, len(keys))

	for i, key := range keys {
		nk := normalizeKey(key)
		normKeys[i] = nk
		sk := string(nk)
		if v, ok := tx.writeSet[sk]; ok {
			out[i] = cloneBytes(v)
			continue
		}
		if v, ok := tx.readSet[sk]; ok {
			out[i] = cloneBytes(v)
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched := make([][]byte, len(missing))
	err := tx.db.withReadLock(func(r *kvstore.RTxn) error {
		for j, i := range missing {
			v, exists, err := r.Get(kvstore.TableRoot, normKeys[i])
			if err != nil {
				return err
			}
			if exists {
				fetched[j] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stowdb: readMany: %w", err)
	}

	for j, i := range missing {
		sk := string(normKeys[i])
		tx.recordReadLocked(sk, keys[i], fetched[j])
		out[i] = cloneBytes(fetched[j])
	}
	return out, nil
}

// recordReadLocked buffers val as the read assumption for sk and bumps
// ephemerons for every hash val mentions. Callers must hold tx.mu.
func (tx *TX) recordReadLocked(sk string, origKey []byte, val []byte) {
	tx.readSet[sk] = cloneBytes(val)
	tx.origKeys[sk] = cloneBytes(origKey)
	tx.bumpEphemerons(val)
}

func (tx *TX) bumpEphemerons(val []byte) {
	if len(val) == 0 {
		return
	}
	deltas := map[string]int{}
	for _, h := range hashid.Deps(val) {
		deltas[h.ShortString()]++
	}
	if len(deltas) == 0 {
		return
	}
	tx.db.eph.Add(deltas)
	for s, n := range deltas {
		tx.eph[s] += n
	}
}

// Write buffers value for key. The empty key is rejected outright; any
// other malformed key shape is silently rewritten (spec.md §3). Writing
// the empty value is equivalent to deleting key.
func (tx *TX) Write(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("stowdb: write: %w", ErrTooLarge)
	}
	nk := normalizeKey(key)
	sk := string(nk)

	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.writeSet[sk] = cloneBytes(value)
	tx.origKeys[sk] = cloneBytes(key)
	return nil
}

// Assume sets key's read assumption directly to value (present=true) or
// clears it (present=false), without consulting the backend or touching
// ephemerons.
func (tx *TX) Assume(key, value []byte, present bool) {
	nk := normalizeKey(key)
	sk := string(nk)

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if !present {
		delete(tx.readSet, sk)
		return
	}
	tx.readSet[sk] = cloneBytes(value)
	tx.origKeys[sk] = cloneBytes(key)
}

// Stow computes value's hash, buffers value in the shared StowBuffer
// (globally visible to Load/WithRsc immediately, even before commit), and
// bumps this TX's own ephemeron hold on it.
func (tx *TX) Stow(value []byte) Hash {
	h := hashid.New(value)

	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.db.stow.Put(h, value)
	tx.db.eph.Add(map[string]int{h.ShortString(): 1})
	tx.eph[h.ShortString()]++
	return h
}

// Load returns the blob for h: a StowBuffer hit, or else a StowTable
// lookup gated by a constant-time suffix compare (spec.md §4.8). The
// second return is false if h is unknown.
func (tx *TX) Load(h Hash) ([]byte, bool, error) {
	if entry, ok := tx.db.stow.Get(h.ShortString()); ok {
		if !hashid.CtEqBytes(entry.Hash.Suffix(), h.Suffix()) {
			return nil, false, nil
		}
		return cloneBytes(entry.Blob), true, nil
	}

	suffixLen := hashid.H / 2
	var found bool
	var out []byte
	err := tx.db.withReadLock(func(r *kvstore.RTxn) error {
		val, exists, err := r.Get(kvstore.TableStow, h.Short())
		if err != nil {
			return err
		}
		if !exists || len(val) < suffixLen {
			return nil
		}
		if !hashid.CtEqBytes(val[:suffixLen], h.Suffix()) {
			return nil
		}
		found = true
		out = val[suffixLen:]
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("stowdb: load: %w", err)
	}
	return out, found, nil
}

// WithRsc is the zero-copy variant of Load: f is invoked with a byte view
// valid only for the duration of the call, avoiding a copy when the blob
// came from the backend's mmap-backed value log.
func (tx *TX) WithRsc(h Hash, f func([]byte) error) (bool, error) {
	if entry, ok := tx.db.stow.Get(h.ShortString()); ok {
		if !hashid.CtEqBytes(entry.Hash.Suffix(), h.Suffix()) {
			return false, nil
		}
		return true, f(entry.Blob)
	}

	suffixLen := hashid.H / 2
	var found bool
	var ferr error
	err := tx.db.withReadLock(func(r *kvstore.RTxn) error {
		_, err := r.View(kvstore.TableStow, h.Short(), func(val []byte) error {
			if len(val) < suffixLen {
				return nil
			}
			if !hashid.CtEqBytes(val[:suffixLen], h.Suffix()) {
				return nil
			}
			found = true
			ferr = f(val[suffixLen:])
			return nil
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("stowdb: withRsc: %w", err)
	}
	return found, ferr
}

// ClearRsc replaces this TX's ephemeron hold with exactly the hashes
// reachable from its current read/write sets plus extras. The new set is
// added to the global ephemeron table before the old one is released, so
// a hash present in both never momentarily reads as unreferenced
// (spec.md §9's "add before subtract").
func (tx *TX) ClearRsc(extras []Hash) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	next := map[string]int{}
	for _, v := range tx.readSet {
		for _, h := range hashid.Deps(v) {
			next[h.ShortString()]++
		}
	}
	for _, v := range tx.writeSet {
		for _, h := range hashid.Deps(v) {
			next[h.ShortString()]++
		}
	}
	for _, h := range extras {
		next[h.ShortString()]++
	}

	tx.db.eph.Add(next)
	tx.db.eph.Release(tx.eph)
	tx.eph = next
}

// Commit submits the TX's (read-set, write-set) pair to the writer and
// blocks for its verdict. On success, writeSet ∪ readSet becomes the new
// readSet and writeSet is cleared (spec.md §3's TX lifecycle); on
// conflict, both sets are left untouched so the caller may retry.
func (tx *TX) Commit() (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	req := tx.buildCommitRequestLocked()
	tx.db.wr.Submit(req)
	ok := <-req.Reply

	if ok {
		for k, v := range tx.writeSet {
			tx.readSet[k] = v
		}
		tx.writeSet = map[string][]byte{}
	}
	return ok, nil
}

// CommitAsync submits the TX's pending commit without blocking on the
// writer's reply (spec.md §5's commit_async). The caller receives the
// verdict on the returned channel; it is responsible for folding the
// outcome back into the TX (e.g. via a subsequent Commit) if it needs to
// keep using this TX afterward.
func (tx *TX) CommitAsync() <-chan bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	req := tx.buildCommitRequestLocked()
	tx.db.wr.Submit(req)
	return req.Reply
}

func (tx *TX) buildCommitRequestLocked() *writer.CommitRequest {
	read := make(map[string][]byte, len(tx.readSet))
	for k, v := range tx.readSet {
		read[k] = v
	}
	write := make(map[string][]byte, len(tx.writeSet))
	for k, v := range tx.writeSet {
		write[k] = v
	}
	return &writer.CommitRequest{
		Read:  read,
		Write: write,
		Reply: make(chan bool, 1),
	}
}

// Dup deep-copies this TX's state into a new TX, duplicating its
// ephemeron counts in the global table so dropping one copy never
// releases a hold the other still needs.
func (tx *TX) Dup() *TX {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	cp := &TX{
		db:       tx.db,
		readSet:  map[string][]byte{},
		writeSet: map[string][]byte{},
		origKeys: map[string][]byte{},
		eph:      map[string]int{},
	}
	for k, v := range tx.readSet {
		cp.readSet[k] = cloneBytes(v)
	}
	for k, v := range tx.writeSet {
		cp.writeSet[k] = cloneBytes(v)
	}
	for k, v := range tx.origKeys {
		cp.origKeys[k] = cloneBytes(v)
	}
	for s, n := range tx.eph {
		cp.eph[s] = n
	}
	tx.db.eph.Add(cp.eph)
	return cp
}

// Check returns the original keys (as passed to Read/Write/Assume) whose
// buffered read assumption no longer matches the backend's current value.
func (tx *TX) Check() ([][]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	var stale [][]byte
	err := tx.db.withReadLock(func(r *kvstore.RTxn) error {
		for sk, assumed := range tx.readSet {
			actual, exists, err := r.Get(kvstore.TableRoot, []byte(sk))
			if err != nil {
				return err
			}
			if !exists {
				actual = nil
			}
			if !bytes.Equal(actual, assumed) {
				stale = append(stale, cloneBytes(tx.origKeys[sk]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stowdb: check: %w", err)
	}
	return stale, nil
}

// Drop releases this TX's ephemeron hold. A dropped TX must not be used
// again.
func (tx *TX) Drop() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.dropped {
		return
	}
	tx.dropped = true
	tx.db.eph.Release(tx.eph)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
