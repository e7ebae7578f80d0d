// Package stowdb is a persistent, content-addressed key-value engine:
// a small root key-value store layered over an immutable stowage store
// whose blobs are keyed by a secure hash of their contents and may mention
// other hashes, forming a reference graph reclaimed by conservative
// garbage collection.
//
// Grounded on the teacher's OuroborosDB (NewOuroborosDB/Close plus a
// background GC goroutine) generalized into the full DB/TX contract of
// spec.md §4.5–§4.7.
package stowdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/awelon/stowdb/internal/ephemeron"
	"github.com/awelon/stowdb/internal/kvstore"
	"github.com/awelon/stowdb/internal/writer"
)

const lockFileName = "lockfile"
const dataDirName = "data"

// DB is an opened stowdb database. It is safe for concurrent use by many
// goroutines: each owns its own TX, or shares one under the TX's own
// exclusive lock (spec.md §5).
type DB struct {
	path string

	backend *kvstore.Backend
	eph     *ephemeron.Table
	stow    *writer.StowBuffer
	frames  *kvstore.FrameSet
	wr      *writer.Writer

	lock *flock.Flock

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Open opens (creating if absent) the database rooted at cfg.Path,
// acquires the process-exclusive file lock, and starts the writer thread.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("stowdb: Config.Path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("stowdb: creating directory: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.Path, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("stowdb: acquiring lockfile: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("stowdb: database at %s is already open by another process", cfg.Path)
	}

	backend, err := kvstore.Open(filepath.Join(cfg.Path, dataDirName), cfg.MaxBytes, cfg.internalLogger())
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("stowdb: opening backend: %w", err)
	}

	eph := ephemeron.New()
	stow := writer.NewStowBuffer()
	frames := kvstore.NewFrameSet()
	wr := writer.New(backend, eph, stow, frames, cfg.internalLogger())

	ctx, cancel := context.WithCancel(context.Background())

	db := &DB{
		path:    cfg.Path,
		backend: backend,
		eph:     eph,
		stow:    stow,
		frames:  frames,
		wr:      wr,
		lock:    lock,
		cancel:  cancel,
	}

	db.wg.Add(1)
	go func() {
		defer db.wg.Done()
		wr.Run(ctx)
	}()

	if cfg.GCInterval > 0 {
		db.wg.Add(1)
		go func() {
			defer db.wg.Done()
			db.gcTicker(ctx, cfg.GCInterval)
		}()
	}

	cfg.logger().Info("stowdb: opened", "path", cfg.Path)
	return db, nil
}

func (db *DB) gcTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.wr.Nudge()
		}
	}
}

// Close stops the writer thread and releases the backend and the
// process-exclusive file lock. The source design drops this implicitly
// when a DB becomes unreferenced (spec.md §9); Go has no such hook, so
// Close is the explicit, idiomatic substitute every caller must invoke.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.cancel()
		db.wg.Wait()
		if cerr := db.backend.Close(); cerr != nil {
			err = cerr
		}
		if uerr := db.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	})
	return err
}

// NewTX creates a fresh client transaction with empty read/write sets.
func (db *DB) NewTX() *TX {
	return &TX{
		db:       db,
		readSet:  map[string][]byte{},
		writeSet: map[string][]byte{},
		origKeys: map[string][]byte{},
		eph:      map[string]int{},
	}
}

// ReadKey is a direct-read shortcut: it opens a TX, reads key, and drops
// the TX, for callers that don't need multi-key snapshot consistency or a
// pending write set (spec.md §8 scenario 6's readKeyDB).
func (db *DB) ReadKey(key []byte) ([]byte, error) {
	tx := db.NewTX()
	defer tx.Drop()
	return tx.Read(key)
}

// GC forces a synchronous garbage-collection cycle: it submits an empty
// commit and waits for the writer to process it, per spec.md §4.7.
func (db *DB) GC() error {
	reply := make(chan bool, 1)
	db.wr.Submit(&writer.CommitRequest{Reply: reply})
	<-reply
	return nil
}

// Stats summarizes the size of a database's persistent tables.
type Stats struct {
	Roots       int
	Stowed      int
	ZeroSetSize int
}

// Stat scans RootTable, StowTable and ZeroSet under a single read lock and
// reports their sizes. It is a diagnostic convenience, not a hot path.
func (db *DB) Stat() (Stats, error) {
	var s Stats
	err := db.withReadLock(func(r *kvstore.RTxn) error {
		s.Roots = countTable(r, kvstore.TableRoot)
		s.Stowed = countTable(r, kvstore.TableStow)
		s.ZeroSetSize = countTable(r, kvstore.TableZero)
		return nil
	})
	return s, err
}

func countTable(r *kvstore.RTxn, t kvstore.Table) int {
	cur := r.Cursor(t, nil)
	defer cur.Close()
	n := 0
	for ok := cur.First(); ok; ok = cur.Next() {
		n++
	}
	return n
}

// withReadLock joins the current reader-frame generation for the duration
// of fn, guaranteeing the writer cannot advance past fn's backend access
// without waiting for it (spec.md §5's read-lock scope).
func (db *DB) withReadLock(fn func(*kvstore.RTxn) error) error {
	frame := db.frames.Join()
	defer frame.Exit()

	rtxn := db.backend.BeginRead()
	defer rtxn.Discard()

	return fn(rtxn)
}
