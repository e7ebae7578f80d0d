package kvstore

import (
	"github.com/dgraph-io/badger/v4"
)

// Cursor iterates the keys of a single table in order, stripping the
// table's prefix byte so callers only ever see the table-local key.
type Cursor struct {
	it     *badger.Iterator
	prefix []byte
	seeked bool
}

func newCursor(it *badger.Iterator, t Table, subPrefix []byte) *Cursor {
	prefix := tableKey(t, subPrefix)
	return &Cursor{it: it, prefix: prefix}
}

// First positions the cursor at the first key in the table (or sub-prefix).
func (c *Cursor) First() bool {
	c.seeked = true
	c.it.Seek(c.prefix)
	return c.Valid()
}

// Next advances the cursor.
func (c *Cursor) Next() bool {
	if !c.seeked {
		return c.First()
	}
	c.it.Next()
	return c.Valid()
}

// Valid reports whether the cursor is positioned on a key still within the
// table's keyspace.
func (c *Cursor) Valid() bool {
	return c.it.ValidForPrefix(c.prefix)
}

// Key returns the current key with the one-byte table tag stripped.
func (c *Cursor) Key() []byte {
	full := c.it.Item().KeyCopy(nil)
	return full[1:]
}

// Value returns a copy of the current value.
func (c *Cursor) Value() ([]byte, error) {
	return c.it.Item().ValueCopy(nil)
}

// Close releases the underlying iterator.
func (c *Cursor) Close() {
	c.it.Close()
}
