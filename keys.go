package stowdb

import "github.com/awelon/stowdb/internal/hashid"

// MaxKeyLen is K_max from spec.md §3: the largest key that is stored
// as-is rather than rewritten.
const MaxKeyLen = 255

// minRegularFirstByte is the smallest first byte a key may have without
// being rewritten; 0x1A (the rewrite marker itself) falls below it.
const minRegularFirstByte = 0x20

// rewriteMarker tags a backend key as the hash-rewritten form of some
// client key that didn't meet the length/first-byte constraints.
const rewriteMarker = 0x1A

// normalizeKey maps a client key onto the byte string actually stored in
// RootTable. Keys within the length and first-byte constraints pass
// through unchanged; others are rewritten to rewriteMarker ++ hash(key),
// deterministically and invisibly to the client (spec.md §3). TX.Write
// rejects the empty key before calling normalizeKey (spec.md §8 scenario
// 4); Read, ReadMany and Assume pass it through, and it is rewritten like
// any other key outside the constraints.
func normalizeKey(key []byte) []byte {
	if len(key) > 0 && len(key) <= MaxKeyLen && key[0] >= minRegularFirstByte {
		return key
	}
	h := hashid.New(key)
	out := make([]byte, 0, 1+hashid.H)
	out = append(out, rewriteMarker)
	out = append(out, h.Bytes()...)
	return out
}
