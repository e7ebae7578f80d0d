// Package refcount implements the persistent per-hash reference counts and
// the zero-refcount candidate index (the ZeroSet) that the writer's
// incremental garbage collector scans.
//
// Grounded on the teacher's internal/index.Index: that package rebuilds an
// in-memory parent->child index from persisted events on demand. RefCount
// generalizes the idea into a fully persistent index -- ZeroSet must
// survive restarts, since it is the GC entry point, not a rebuildable
// cache -- stored as its own ordered table so the writer can pull
// candidates with a cursor instead of a linear scan of every known hash.
package refcount

import (
	"fmt"
	"strconv"

	"github.com/awelon/stowdb/internal/kvstore"
)

// Get returns the current refcount of shortHash, 0 if it is absent from
// both RCTable and ZeroSet.
func Get(w *kvstore.WTxn, shortHash []byte) (int, error) {
	val, ok, err := w.Get(kvstore.TableRC, shortHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(string(val))
	if err != nil {
		return 0, fmt.Errorf("refcount: corrupt RCTable entry for %x: %w", shortHash, err)
	}
	return n, nil
}

// Set persists shortHash's new refcount. n must not be negative -- a
// negative count is a decref-below-zero invariant violation (spec.md §8
// "Decref monotonicity") and is an assertion failure, not a recoverable
// error, so it panics rather than returning one.
func Set(w *kvstore.WTxn, shortHash []byte, n int) error {
	if n < 0 {
		panic(fmt.Sprintf("refcount: decref below zero for %x (n=%d)", shortHash, n))
	}
	if n == 0 {
		if err := w.Delete(kvstore.TableRC, shortHash); err != nil {
			return err
		}
		return w.Put(kvstore.TableZero, shortHash, nil)
	}
	if err := w.Delete(kvstore.TableZero, shortHash); err != nil {
		return err
	}
	return w.Put(kvstore.TableRC, shortHash, []byte(strconv.Itoa(n)))
}

// Take pops up to k shortHashes from the ZeroSet as garbage-collection
// seed candidates, skipping any for which exclude reports true (the
// writer's current-delta, ephemeron and two-frame hold exclusions).
func Take(w *kvstore.WTxn, k int, exclude func(shortHash string) bool) ([][]byte, error) {
	if k <= 0 {
		return nil, nil
	}

	cur := w.Cursor(kvstore.TableZero, nil)
	defer cur.Close()

	var out [][]byte
	for ok := cur.First(); ok && len(out) < k; ok = cur.Next() {
		key := cur.Key()
		if exclude != nil && exclude(string(key)) {
			continue
		}
		cp := make([]byte, len(key))
		copy(cp, key)
		out = append(out, cp)
	}
	return out, nil
}
