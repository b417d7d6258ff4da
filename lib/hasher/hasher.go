// Package hasher defines the incremental hash object frz streams file
// contents through, and a byte-counting wrapper that turns it into a
// <hash,size> producer.
package hasher

import (
	"github.com/kwiberg/frz/lib/hash"
)

// Hasher is an incremental hash object: AddBytes may be called any number
// of times, then Finish exactly once. Callers that violate the
// finish-once rule get a panic (a programming error, not a recoverable
// condition).
type Hasher interface {
	AddBytes(p []byte) error
	Finish() hash.Hash
}

// SizeHasher wraps a Hasher and additionally counts the number of bytes
// that pass through, so that Finish yields a HashAndSize instead of a
// bare Hash.
type SizeHasher struct {
	h        Hasher
	numBytes int64
	done     bool
}

// NewSizeHasher wraps h. h must not be nil.
func NewSizeHasher(h Hasher) *SizeHasher {
	if h == nil {
		panic("hasher: NewSizeHasher given a nil Hasher")
	}
	return &SizeHasher{h: h}
}

// AddBytes implements stream.Sink.
func (s *SizeHasher) AddBytes(p []byte) error {
	if s.done {
		panic("hasher: AddBytes called after Finish")
	}
	if err := s.h.AddBytes(p); err != nil {
		return err
	}
	s.numBytes += int64(len(p))
	return nil
}

// Finish computes the final HashAndSize. It may only be called once.
func (s *SizeHasher) Finish() hash.HashAndSize {
	if s.done {
		panic("hasher: Finish called twice")
	}
	s.done = true
	return hash.HashAndSize{Hash: s.h.Finish(), Size: s.numBytes}
}
