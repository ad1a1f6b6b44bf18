package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateHasher_Chain(t *testing.T) {
	h := NewStateHasher()
	assert.Equal(t, GenesisHash(), h.GetPrevHash())

	peeked := h.Peek(1, []byte("digest"))
	assert.Equal(t, GenesisHash(), h.GetPrevHash(), "peek must not advance")

	first := h.ComputeHash(1, []byte("digest"))
	assert.Equal(t, peeked, first)
	assert.Equal(t, first, h.GetPrevHash())

	// same digest at another sequence hashes differently
	other := NewStateHasher()
	assert.NotEqual(t, first, other.ComputeHash(2, []byte("digest")))

	second := h.ComputeHash(2, []byte("digest"))
	assert.NotEqual(t, first, second)

	h.SetPrevHash(first)
	assert.Equal(t, second, h.ComputeHash(2, []byte("digest")))
}

func TestAppendBytes_LengthPrefixed(t *testing.T) {
	a := appendBytes(appendBytes(nil, []byte("ab")), []byte("c"))
	b := appendBytes(appendBytes(nil, []byte("a")), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, []byte{2, 0, 0, 0, 'a', 'b', 1, 0, 0, 0, 'c'}, a)
}
