// Package ephemeron implements the volatile multiset of shortHashes that
// prevents garbage collection of resources referenced only by live
// transactions, never anchored into the persistent refcounts.
//
// Grounded on ValentinKolb/dKV/lib/db/engines/maple/internal.Shard.Data,
// which keeps live, concurrently-mutated entries in an xsync.MapOf rather
// than a mutex-guarded map -- the same shape this table needs, since many
// TXs add and release ephemerons concurrently while the writer only ever
// reads Contains.
package ephemeron

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Table is a thread-safe multiset: shortHash -> count of live in-memory
// references. Entries are removed once their count returns to zero.
type Table struct {
	m *xsync.MapOf[string, int]
}

// New returns an empty ephemeron table.
func New() *Table {
	return &Table{m: xsync.NewMapOf[string, int]()}
}

// Add increments each shortHash in deltas by its associated count.
func (t *Table) Add(deltas map[string]int) {
	for h, n := range deltas {
		if n == 0 {
			continue
		}
		t.m.Compute(h, func(old int, loaded bool) (int, bool) {
			return old + n, false
		})
	}
}

// Release decrements each shortHash in deltas by its associated count,
// dropping entries whose count reaches zero.
func (t *Table) Release(deltas map[string]int) {
	for h, n := range deltas {
		if n == 0 {
			continue
		}
		t.m.Compute(h, func(old int, loaded bool) (int, bool) {
			remaining := old - n
			if remaining <= 0 {
				return 0, true
			}
			return remaining, false
		})
	}
}

// Contains reports whether shortHash currently has at least one live
// ephemeral reference.
func (t *Table) Contains(shortHash string) bool {
	n, ok := t.m.Load(shortHash)
	return ok && n > 0
}
