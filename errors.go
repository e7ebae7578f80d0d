package stowdb

import "errors"

// Error kinds, per spec.md §7. NotFound and Conflict are
// client-recoverable and reported by value (a false boolean result, not an
// error); TooLarge is returned for the one key shape that is rejected
// outright rather than silently rewritten. Full and Corrupt are never
// returned to a caller -- a backend write failure is logged and makes the
// writer exit the process, and a refcount decremented below zero panics.
// Of these sentinels, only ErrTooLarge is returned by any function.
//
// Generalizes bitmark-inc/bitmarkd/fault's typed-sentinel taxonomy
// (InvalidError, NotFoundError, ...) onto Go 1.13 wrapped sentinel errors,
// so callers use errors.Is instead of type switches.
var (
	// ErrNotFound names the unknown-hash kind. Load and WithRsc report an
	// unknown hash with a false result and a nil error rather than
	// returning it, and TX.Read never returns it -- a missing key simply
	// reads back as an empty value.
	ErrNotFound = errors.New("stowdb: not found")

	// ErrConflict names the conflict kind. When the TX's read assumptions no
	// longer hold against the current database state, Commit reports it by
	// returning false with a nil error, not by returning ErrConflict.
	ErrConflict = errors.New("stowdb: commit conflict")

	// ErrTooLarge is returned for a key that cannot be stored at all: the
	// empty key. Keys that are merely too long or start with the wrong
	// byte are not rejected -- they are silently rewritten (spec.md §3).
	ErrTooLarge = errors.New("stowdb: key too large or malformed")

	// ErrFull names the kind of a backend that rejects a write. The writer
	// handles such a failure by logging the backend's own error and
	// exiting; ErrFull itself is never returned or logged.
	ErrFull = errors.New("stowdb: backend full")

	// ErrCorrupt names the kind of a violated internal invariant -- e.g. a
	// refcount decremented below zero, which panics with a message string
	// (not with ErrCorrupt) in internal/refcount.
	ErrCorrupt = errors.New("stowdb: corrupt internal state")
)
