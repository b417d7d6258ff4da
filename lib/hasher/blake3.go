package hasher

import (
	"github.com/zeebo/blake3"

	"github.com/kwiberg/frz/lib/hash"
)

// blake3Hasher adapts zeebo/blake3 to the Hasher interface. It is the
// content hash algorithm this module deploys.
type blake3Hasher struct {
	h    *blake3.Hasher
	done bool
}

// NewBlake3 returns a Hasher that computes a BLAKE3-256 digest.
func NewBlake3() Hasher {
	return &blake3Hasher{h: blake3.New()}
}

func (b *blake3Hasher) AddBytes(p []byte) error {
	if b.done {
		panic("hasher: AddBytes called after Finish")
	}
	_, err := b.h.Write(p)
	return err
}

func (b *blake3Hasher) Finish() hash.Hash {
	if b.done {
		panic("hasher: Finish called twice")
	}
	b.done = true
	var out hash.Hash
	sum := b.h.Sum(nil)
	copy(out[:], sum)
	return out
}
