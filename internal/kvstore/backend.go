// Package kvstore adapts github.com/dgraph-io/badger/v4 into the ordered,
// transactional, single-writer backend the engine needs: four named tables
// multiplexed over one keyspace by a one-byte prefix, read transactions and
// a single writer transaction, and cursors over each table.
//
// Badger stands in for the LMDB backend the source design assumes (spec
// allows "any equivalent substitutes" for the Backend component): it gives
// ordered keys, MVCC read transactions that don't block the writer, and
// zero-copy value access via badger.Item.Value during a read transaction's
// lifetime. The adapter intentionally carries none of its own reader-lock
// accounting -- the engine's writer (internal/writer) and reader frame
// latch (Frame, in this package) own that responsibility, exactly as
// spec.md §4.2 requires.
package kvstore

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Table identifies one of the four persistent tables by its one-byte
// keyspace prefix.
type Table byte

const (
	TableRoot  Table = '@' // RootTable: Key -> Value
	TableStow  Table = '$' // StowTable: shortHash -> suffix ++ blob
	TableRC    Table = '#' // RCTable: shortHash -> decimal refcount
	TableZero  Table = '0' // ZeroSet: shortHash -> empty (set membership)
)

// Backend is the opened, badger-backed storage engine.
type Backend struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens (creating if absent) the backend rooted at path. maxBytes
// bounds the on-disk value log file size, the closest badger analogue to
// LMDB's map-size cap; write-through value log (SyncWrites=false) is used
// throughout, since the engine controls fsync timing itself (spec.md §4.6
// step 10) and must not pay it on every badger transaction.
func Open(path string, maxBytes int64, log *logrus.Logger) (*Backend, error) {
	if log == nil {
		log = logrus.New()
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false
	if maxBytes > 0 {
		opts.ValueLogFileSize = maxBytes
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{db: db, log: log}, nil
}

// Close releases the backend's resources. It does not release the
// process-exclusive file lock; that is the caller's (stowdb.DB's)
// responsibility.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Sync flushes the backend to stable storage.
func (b *Backend) Sync() error {
	return b.db.Sync()
}

func tableKey(t Table, k []byte) []byte {
	out := make([]byte, 1+len(k))
	out[0] = byte(t)
	copy(out[1:], k)
	return out
}

// RTxn is a read-only transaction. The value View passes to its callback is
// a zero-copy view valid only for the duration of that callback; callers
// that need to retain it must copy it. Get always returns a copy.
type RTxn struct {
	txn *badger.Txn
}

// BeginRead opens a new read transaction over the current committed state.
func (b *Backend) BeginRead() *RTxn {
	return &RTxn{txn: b.db.NewTransaction(false)}
}

// Discard releases the read transaction.
func (r *RTxn) Discard() {
	r.txn.Discard()
}

// Get fetches a copy of the value stored at (table, key).
func (r *RTxn) Get(t Table, key []byte) ([]byte, bool, error) {
	item, err := r.txn.Get(tableKey(t, key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// View invokes fn with a zero-copy view of the value at (table, key). The
// byte slice passed to fn is only valid for the duration of the call.
func (r *RTxn) View(t Table, key []byte, fn func([]byte) error) (bool, error) {
	item, err := r.txn.Get(tableKey(t, key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(fn)
}

// Cursor opens an iterator over table, optionally scoped to keys with the
// given sub-prefix (pass nil for the whole table).
func (r *RTxn) Cursor(t Table, prefix []byte) *Cursor {
	opts := badger.DefaultIteratorOptions
	it := r.txn.NewIterator(opts)
	return newCursor(it, t, prefix)
}

// WTxn is the single writer transaction. It also supports reads (badger
// transactions are read-write), used by the writer to validate commit read
// sets and snapshot overwrites against the batch in progress.
type WTxn struct {
	txn *badger.Txn
}

// BeginWrite opens the (sole) writer transaction.
func (b *Backend) BeginWrite() *WTxn {
	return &WTxn{txn: b.db.NewTransaction(true)}
}

// Discard abandons the writer transaction without committing.
func (w *WTxn) Discard() {
	w.txn.Discard()
}

// Commit commits the writer transaction. This is the point at which the
// backend's view of the data advances to a new generation.
func (w *WTxn) Commit() error {
	return w.txn.Commit()
}

// Get fetches a copy of the value stored at (table, key).
func (w *WTxn) Get(t Table, key []byte) ([]byte, bool, error) {
	item, err := w.txn.Get(tableKey(t, key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// View invokes fn with a zero-copy view of the value at (table, key).
func (w *WTxn) View(t Table, key []byte, fn func([]byte) error) (bool, error) {
	item, err := w.txn.Get(tableKey(t, key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(fn)
}

// Put writes value at (table, key).
func (w *WTxn) Put(t Table, key, value []byte) error {
	return w.txn.Set(tableKey(t, key), value)
}

// PutIfAbsent writes value at (table, key) only if no value is currently
// stored there, honoring StowTable's no-overwrite insertion semantics
// (spec.md §4.6 step 8c). It reports whether the write happened.
func (w *WTxn) PutIfAbsent(t Table, key, value []byte) (bool, error) {
	_, exists, err := w.Get(t, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, w.Put(t, key, value)
}

// Delete removes (table, key).
func (w *WTxn) Delete(t Table, key []byte) error {
	return w.txn.Delete(tableKey(t, key))
}

// Cursor opens an iterator over table within the writer transaction,
// optionally scoped to a sub-prefix.
func (w *WTxn) Cursor(t Table, prefix []byte) *Cursor {
	opts := badger.DefaultIteratorOptions
	it := w.txn.NewIterator(opts)
	return newCursor(it, t, prefix)
}
