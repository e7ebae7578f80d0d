package hashid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsDeterministicAndSelfConsistent(t *testing.T) {
	h1 := New([]byte("hello world"))
	h2 := New([]byte("hello world"))
	assert.Equal(t, h1, h2)

	other := New([]byte("hello worlds"))
	assert.NotEqual(t, h1, other)

	assert.Len(t, h1.Bytes(), H)
	assert.Len(t, h1.Short(), shortLen)
	assert.Len(t, h1.Suffix(), H-shortLen)
	assert.Equal(t, h1.Bytes(), append(append([]byte{}, h1.Short()...), h1.Suffix()...))
}

func TestFromShortAndSuffixRoundTrips(t *testing.T) {
	h := New([]byte("round trip me"))
	rebuilt := FromShortAndSuffix(h.Short(), h.Suffix())
	assert.Equal(t, h, rebuilt)
}

func TestCtEqBytes(t *testing.T) {
	a := []byte("abcdef")
	b := append([]byte{}, a...)
	c := []byte("abcdeg")

	assert.True(t, CtEqBytes(a, b))
	assert.False(t, CtEqBytes(a, c))
	assert.False(t, CtEqBytes(a, []byte("short")))
}

func TestDepsFindsExactLengthRuns(t *testing.T) {
	h := New([]byte("payload"))

	blob := []byte("see ref " + h.String() + " end.")
	deps := Deps(blob)
	require.Len(t, deps, 1)
	assert.Equal(t, h, deps[0])
}

func TestDepsRejectsRunsOfWrongLength(t *testing.T) {
	h := New([]byte("payload"))
	tooShort := h.String()[:H-1]
	tooLong := h.String() + "a"

	assert.Empty(t, Deps([]byte(tooShort)))
	assert.Empty(t, Deps([]byte(tooLong)))
}

func TestDepsFindsMultipleMentions(t *testing.T) {
	h1 := New([]byte("one"))
	h2 := New([]byte("two"))

	blob := []byte(h1.String() + " " + h2.String())
	deps := Deps(blob)
	require.Len(t, deps, 2)
	assert.Equal(t, h1, deps[0])
	assert.Equal(t, h2, deps[1])
}

func TestDepsAcrossWholeBlobBoundary(t *testing.T) {
	h := New([]byte("boundary"))
	deps := Deps([]byte(h.String()))
	require.Len(t, deps, 1)
	assert.Equal(t, h, deps[0])
}

func TestAlphabetExcludesDigitsZeroAndOne(t *testing.T) {
	assert.NotContains(t, Alphabet, "0")
	assert.NotContains(t, Alphabet, "1")
	assert.Len(t, Alphabet, 32)
}
