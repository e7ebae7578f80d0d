package stowdb

import (
	"fmt"

	"github.com/awelon/stowdb/internal/hashid"
)

// Hash is the 60-byte secure content hash a blob is stowed and loaded by.
// Its first half is the shortHash used to locate the blob; its second half
// is checked in constant time before the blob is returned (spec.md §4.8).
type Hash = hashid.Hash

// HashOf computes the Hash of blob's contents without stowing it.
func HashOf(blob []byte) Hash {
	return hashid.New(blob)
}

// ParseHash parses s as the 60-byte base-32 ASCII representation of a
// Hash, as produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hashid.H {
		return h, fmt.Errorf("stowdb: hash must be %d bytes, got %d", hashid.H, len(s))
	}
	copy(h[:], s)
	return h, nil
}
