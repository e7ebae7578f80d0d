// Package hashid computes the secure content hash used to key the stowage
// store, scans blobs for embedded hash mentions, and provides the
// constant-time comparison the stowage lookup path needs.
//
// The hash construction mirrors bitmark-inc/bitmarkd/merkle.NewDigest
// (a direct golang.org/x/crypto/sha3 digest, no intermediate library): a
// SHA3-512 digest of the input is base-32 encoded and truncated to the
// fixed width H. The encoded form is self-delimiting under Deps only when a
// hash mention is bounded by bytes outside the alphabet (spaces,
// punctuation, or the digits '0', '1', '8' and '9'); the digits '2'..'7'
// are alphabet symbols and merge with an adjacent hash.
package hashid

import (
	"crypto/subtle"
	"encoding/base32"

	"golang.org/x/crypto/sha3"
)

// H is the fixed width, in bytes, of a Hash's base-32 ASCII representation.
const H = 60

// shortLen is the length of the shortHash prefix used as the StowTable and
// RCTable lookup key.
const shortLen = H / 2

// Alphabet is the 32-symbol alphabet hashes are encoded with. It excludes
// the digits '0', '1', '8' and '9' and all punctuation, so a hash mention
// next to one of those bytes stays self-delimiting under Deps; the digits
// '2'..'7' are part of the alphabet.
const Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

var encoding = base32.NewEncoding(Alphabet).WithPadding(base32.NoPadding)

var alphabetSet [256]bool

func init() {
	for i := 0; i < len(Alphabet); i++ {
		alphabetSet[Alphabet[i]] = true
	}
}

// Hash is the 60-byte base-32 ASCII representation of a secure digest. It is
// its own storage key: the first 30 bytes are the shortHash used to look the
// blob up, and the remaining 30 bytes are compared in constant time to guard
// against timing attacks on the lookup.
type Hash [H]byte

// New computes the Hash of blob's contents.
func New(blob []byte) Hash {
	digest := sha3.Sum512(blob)
	// 64 bytes -> 103 base-32 symbols at 5 bits/symbol; H=60 of those are kept.
	encoded := make([]byte, encoding.EncodedLen(len(digest)))
	encoding.Encode(encoded, digest[:])

	var h Hash
	copy(h[:], encoded[:H])
	return h
}

// Short returns the shortHash prefix used as the StowTable/RCTable key.
func (h Hash) Short() []byte {
	return h[:shortLen]
}

// ShortString returns the shortHash prefix as a string, suitable for use as
// a map key in the ephemeron table and the writer's in-flight bookkeeping.
func (h Hash) ShortString() string {
	return string(h[:shortLen])
}

// Suffix returns the second half of the hash, the part that must be checked
// in constant time before a stowage lookup is trusted.
func (h Hash) Suffix() []byte {
	return h[shortLen:]
}

// Bytes returns the full 60-byte representation.
func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	return string(h[:])
}

// FromShortAndSuffix reconstructs a Hash from a stored shortHash key and the
// suffix bytes that follow it in a StowTable entry.
func FromShortAndSuffix(short, suffix []byte) Hash {
	var h Hash
	copy(h[:shortLen], short)
	copy(h[shortLen:], suffix)
	return h
}

// CtEqBytes is a constant-time equality check for equal-length byte
// strings. It reports false immediately (non-constant-time) for mismatched
// lengths, since length is never secret in this design.
func CtEqBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Deps conservatively scans blob for embedded hash mentions: maximal runs
// of alphabet bytes exactly H bytes long, bounded by non-alphabet bytes (or
// the ends of blob). Runs shorter or longer than H are not matches -- a
// longer run cannot be unambiguously split into a hash, so it is skipped
// entirely rather than guessed at. False positives (arbitrary bytes that
// happen to decode as a run of exactly H alphabet characters) are allowed;
// they only extend refcount chains harmlessly.
func Deps(blob []byte) []Hash {
	var deps []Hash
	runStart := -1
	for i := 0; i <= len(blob); i++ {
		isAlpha := i < len(blob) && alphabetSet[blob[i]]
		if isAlpha {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			if i-runStart == H {
				var h Hash
				copy(h[:], blob[runStart:i])
				deps = append(deps, h)
			}
			runStart = -1
		}
	}
	return deps
}
