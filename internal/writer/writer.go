// Package writer implements the single serial actor that owns the backend's
// writer transaction: it drains the commit queue, validates optimistic read
// assumptions, folds accepted writes into a batch, migrates newly-stowed
// resources into the StowTable, runs bounded incremental garbage
// collection, advances the reader-frame generation, and fsyncs.
//
// Grounded on the teacher's internal/keyValStore.KeyValStore background
// loop (StartTransactionCounter's ticker goroutine, Clean's
// Sync-then-compact sequencing) generalized from a fixed periodic
// maintenance task into the full batching-and-GC cycle spec.md §4.6
// describes. The fatal-on-write-failure policy mirrors keyValStore's
// pervasive log.Fatal(err) on backend errors.
package writer

import (
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/awelon/stowdb/internal/ephemeron"
	"github.com/awelon/stowdb/internal/hashid"
	"github.com/awelon/stowdb/internal/kvstore"
	"github.com/awelon/stowdb/internal/refcount"
)

// CommitRequest is a client TX's (read-set, write-set) pair submitted for
// validation and, if accepted, application. Read and Write are keyed by
// already key-rewritten (normalized) backend keys.
type CommitRequest struct {
	Read  map[string][]byte
	Write map[string][]byte
	Reply chan bool
}

// Writer is the serial writer actor described by spec.md §4.6.
type Writer struct {
	backend *kvstore.Backend
	eph     *ephemeron.Table
	stow    *StowBuffer
	frames  *kvstore.FrameSet
	log     *logrus.Logger

	mu      sync.Mutex
	pending []*CommitRequest
	signal  chan struct{}

	holdNextFrame map[string]struct{}
}

// New constructs a Writer. It does not start the batching loop; call Run in
// its own goroutine.
func New(backend *kvstore.Backend, eph *ephemeron.Table, stow *StowBuffer, frames *kvstore.FrameSet, log *logrus.Logger) *Writer {
	if log == nil {
		log = logrus.New()
	}
	return &Writer{
		backend:       backend,
		eph:           eph,
		stow:          stow,
		frames:        frames,
		log:           log,
		signal:        make(chan struct{}, 1),
		holdNextFrame: map[string]struct{}{},
	}
}

// Submit enqueues req and wakes the writer. It never blocks the caller on
// the writer's progress; req.Reply receives false as soon as validation
// rejects req, or true once the cycle that accepted it has committed and
// synced.
func (w *Writer) Submit(req *CommitRequest) {
	w.mu.Lock()
	w.pending = append(w.pending, req)
	w.mu.Unlock()
	w.wake()
}

// Nudge wakes the writer without submitting a commit, driving a stow-only
// or GC-only cycle; the DB's background GC ticker uses it. The synchronous
// DB.GC submits an empty CommitRequest instead, so it can wait for the
// reply.
func (w *Writer) Nudge() {
	w.wake()
}

func (w *Writer) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Writer) drainPending() []*CommitRequest {
	w.mu.Lock()
	out := w.pending
	w.pending = nil
	w.mu.Unlock()
	return out
}

// Run drives the writer's batching loop until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
		}
		for w.cycle() {
			// incremental GC hit its cap; keep going without waiting on a
			// fresh signal (spec.md §4.6 step 7: "re-signal so the next
			// cycle continues GC").
		}
	}
}

func (w *Writer) fatal(component string, err error) {
	w.log.WithField("component", component).Fatal(err)
}

// cycle runs one full batching-and-GC pass and reports whether incremental
// GC was capped and should continue immediately.
func (w *Writer) cycle() bool {
	txList := w.drainPending()
	stowSnapshot := w.stow.Snapshot()

	wtxn := w.backend.BeginWrite()
	committed := false
	defer func() {
		if !committed {
			wtxn.Discard()
		}
	}()

	batch := map[string][]byte{}
	var accepted []*CommitRequest

	for _, req := range txList {
		ok, err := w.validateRead(wtxn, batch, req.Read)
		if err != nil {
			w.fatal("writer.validate", err)
		}
		if !ok {
			req.Reply <- false
			continue
		}
		for k, v := range req.Write {
			batch[k] = v
		}
		accepted = append(accepted, req)
	}

	overwrites := map[string][]byte{}
	for k := range batch {
		old, exists, err := wtxn.Get(kvstore.TableRoot, []byte(k))
		if err != nil {
			w.fatal("writer.overwrites", err)
		}
		if exists {
			overwrites[k] = old
		}
	}

	newResources := map[string]Entry{}
	for short, entry := range stowSnapshot {
		_, exists, err := wtxn.Get(kvstore.TableStow, []byte(short))
		if err != nil {
			w.fatal("writer.newResources", err)
		}
		if !exists {
			newResources[short] = entry
		}
	}

	delta := map[string]int{}
	overwriteDeps := map[string]struct{}{}
	bump := func(blob []byte, n int, mark map[string]struct{}) {
		for _, h := range hashid.Deps(blob) {
			s := h.ShortString()
			delta[s] += n
			if mark != nil {
				mark[s] = struct{}{}
			}
		}
	}
	for _, v := range batch {
		if len(v) > 0 {
			bump(v, +1, nil)
		}
	}
	for _, old := range overwrites {
		if len(old) > 0 {
			bump(old, -1, overwriteDeps)
		}
	}
	for _, entry := range newResources {
		bump(entry.Blob, +1, nil)
		// +0 per new resource key: a resource with no incoming references
		// still needs a row in RCTable/ZeroSet, or it can never be found by
		// refcount.Take as a GC candidate (spec.md §4.6 step 6).
		if _, ok := delta[entry.Hash.ShortString()]; !ok {
			delta[entry.Hash.ShortString()] = 0
		}
	}

	gcSet, capped := w.incrementalGC(wtxn, delta, stowSnapshot)

	for short := range gcSet {
		if err := wtxn.Delete(kvstore.TableStow, []byte(short)); err != nil {
			w.fatal("writer.gc", err)
		}
		if err := wtxn.Delete(kvstore.TableRC, []byte(short)); err != nil {
			w.fatal("writer.gc", err)
		}
		if err := wtxn.Delete(kvstore.TableZero, []byte(short)); err != nil {
			w.fatal("writer.gc", err)
		}
	}

	for short, d := range delta {
		if _, isGC := gcSet[short]; isGC {
			continue
		}
		_, isNewResource := newResources[short]
		if d == 0 && !isNewResource {
			continue
		}
		cur, err := refcount.Get(wtxn, []byte(short))
		if err != nil {
			w.fatal("writer.refcount", err)
		}
		if err := refcount.Set(wtxn, []byte(short), cur+d); err != nil {
			w.fatal("writer.refcount", err)
		}
	}

	var persistedNew []string
	for short, entry := range newResources {
		if _, isGC := gcSet[short]; isGC {
			continue
		}
		value := make([]byte, 0, hashid.H/2+len(entry.Blob))
		value = append(value, entry.Hash.Suffix()...)
		value = append(value, entry.Blob...)
		if _, err := wtxn.PutIfAbsent(kvstore.TableStow, []byte(short), value); err != nil {
			w.fatal("writer.stow", err)
		}
		persistedNew = append(persistedNew, short)
	}

	for k, v := range batch {
		var err error
		if len(v) == 0 {
			err = wtxn.Delete(kvstore.TableRoot, []byte(k))
		} else {
			err = wtxn.Put(kvstore.TableRoot, []byte(k), v)
		}
		if err != nil {
			w.fatal("writer.roots", err)
		}
	}

	retired := w.frames.Advance()
	retired.AwaitZero()

	if err := wtxn.Commit(); err != nil {
		w.fatal("writer.commit", err)
	}
	committed = true

	w.holdNextFrame = overwriteDeps

	if err := w.backend.Sync(); err != nil {
		w.fatal("writer.fsync", err)
	}

	for _, req := range accepted {
		req.Reply <- true
	}
	w.stow.RemoveAll(persistedNew)

	if capped {
		w.log.WithField("component", "writer.gc").Debug("GC cap reached, continuing next cycle")
	}
	return capped
}

func (w *Writer) validateRead(wtxn *kvstore.WTxn, batch map[string][]byte, read map[string][]byte) (bool, error) {
	for k, expected := range read {
		var actual []byte
		if v, ok := batch[k]; ok {
			actual = v
		} else {
			v, exists, err := wtxn.Get(kvstore.TableRoot, []byte(k))
			if err != nil {
				return false, err
			}
			if exists {
				actual = v
			}
		}
		if !bytes.Equal(actual, expected) {
			return false, nil
		}
	}
	return true, nil
}

// incrementalGC implements spec.md §4.6 step 7: it seeds candidates from
// the ZeroSet, excluding hashes touched by this cycle's delta, held by a
// live ephemeron, or held over from the previous cycle's overwrites; then
// follows each dropped candidate's own dependencies, bounded by qgc.
func (w *Writer) incrementalGC(wtxn *kvstore.WTxn, delta map[string]int, stowSnapshot map[string]Entry) (map[string]struct{}, bool) {
	qc := 50 + 2*len(delta)
	qgc := 5 * qc

	// Snapshot which shortHashes this cycle's delta already touches before
	// the cascade below starts mutating delta with its own delta[d]--: a
	// dependency discovered mid-cascade must not be excluded merely because
	// following it created a (new) entry in the live delta map, or the
	// cascade could never advance past its first hop.
	seedExcluded := make(map[string]struct{}, len(delta))
	for s := range delta {
		seedExcluded[s] = struct{}{}
	}

	excluded := func(s string) bool {
		if _, ok := seedExcluded[s]; ok {
			return true
		}
		if w.eph.Contains(s) {
			return true
		}
		if _, ok := w.holdNextFrame[s]; ok {
			return true
		}
		return false
	}

	seeds, err := refcount.Take(wtxn, qc, excluded)
	if err != nil {
		w.fatal("writer.gc.take", err)
	}

	gcSet := map[string]struct{}{}
	var frontier [][]byte
	for _, s := range seeds {
		count, err := refcount.Get(wtxn, s)
		if err != nil {
			w.fatal("writer.gc.take", err)
		}
		if count+delta[string(s)] == 0 {
			frontier = append(frontier, s)
		}
	}

	capped := false
	for len(frontier) > 0 && !capped {
		var next [][]byte
		for _, s := range frontier {
			key := string(s)
			if _, already := gcSet[key]; already {
				continue
			}
			if len(gcSet) >= qgc {
				capped = true
				break
			}
			gcSet[key] = struct{}{}

			blob, ok, err := w.loadBlobForDeps(wtxn, stowSnapshot, key)
			if err != nil {
				w.fatal("writer.gc.load", err)
			}
			if !ok {
				continue
			}
			for _, h := range hashid.Deps(blob) {
				d := h.ShortString()
				delta[d]--
				count, err := refcount.Get(wtxn, []byte(d))
				if err != nil {
					w.fatal("writer.gc.load", err)
				}
				if count+delta[d] != 0 || excluded(d) {
					continue
				}
				if _, inSet := gcSet[d]; inSet {
					continue
				}
				next = append(next, []byte(d))
			}
		}
		frontier = next
	}

	return gcSet, capped
}

func (w *Writer) loadBlobForDeps(wtxn *kvstore.WTxn, stowSnapshot map[string]Entry, shortHash string) ([]byte, bool, error) {
	if entry, ok := stowSnapshot[shortHash]; ok {
		return entry.Blob, true, nil
	}
	val, ok, err := wtxn.Get(kvstore.TableStow, []byte(shortHash))
	if err != nil || !ok {
		return nil, ok, err
	}
	suffixLen := hashid.H / 2
	if len(val) < suffixLen {
		return nil, false, nil
	}
	return val[suffixLen:], true, nil
}
