// Package hash implements the fixed-width content digest and the
// <hash,size> token frz uses to name content and to encode user symlink
// targets.
package hash

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/kwiberg/frz/lib/base32"
)

// NumBytes is the width of a Hash: 256 bits, matching the reference
// BLAKE3-256 algorithm. frz is parameterized over a single hash width in
// practice, so unlike the original's Hash<NumBits> template this is a
// concrete type rather than a generic one.
const NumBytes = 32

// Hash is an immutable 256-bit digest.
type Hash [NumBytes]byte

// FromHex parses exactly 64 hex digits into a Hash.
func FromHex(s string) (Hash, bool) {
	if len(s) != 2*NumBytes {
		return Hash{}, false
	}
	var b [NumBytes]byte
	if _, err := hex.Decode(b[:], []byte(s)); err != nil {
		return Hash{}, false
	}
	return Hash(b), true
}

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return "Hash:" + h.Hex()
}

// HashAndSize bundles a Hash with a non-negative file length. This is the
// canonical token frz embeds in symlink targets.
type HashAndSize struct {
	Hash Hash
	Size int64
}

func (hs HashAndSize) String() string {
	return fmt.Sprintf("{hash:%s,size:%d,base32:%s}", hs.Hash.Hex(), hs.Size, hs.ToBase32())
}

// roundUp5 rounds n up to the nearest multiple of 5.
func roundUp5(n int) int {
	return (n + 4) / 5 * 5
}

// ToBase32 encodes hs as a base-32 token: the hash bits first, followed by
// the file size represented with as few bits as possible, padded at the
// front with zero bits so the total bit count is a multiple of 5 (a whole
// number of digits).
func (hs HashAndSize) ToBase32() string {
	size := uint64(hs.Size)
	sizeBits := roundUp5(64-bits.LeadingZeros64(size)+NumBytes*8) - NumBytes*8

	digits := make([]byte, 0, (NumBytes*8+sizeBits)/5)

	// Whole 5-byte groups of the hash become groups of 8 base-32 digits.
	fullGroupBytes := (NumBytes / 5) * 5
	for i := 0; i < fullGroupBytes; i += 5 {
		n := uint64(hs.Hash[i])<<32 | uint64(hs.Hash[i+1])<<24 | uint64(hs.Hash[i+2])<<16 |
			uint64(hs.Hash[i+3])<<8 | uint64(hs.Hash[i+4])
		for shift := 35; shift >= 0; shift -= 5 {
			digits = append(digits, base32.Digit(int((n>>shift)&0x1f)))
		}
	}

	// The remaining 0-4 hash bytes, plus the size bits, may not fit in a
	// single 64-bit word, so accumulate them with arbitrary precision.
	acc := new(big.Int)
	bitsSoFar := 0
	for i := fullGroupBytes; i < NumBytes; i++ {
		acc.Lsh(acc, 8)
		acc.Or(acc, big.NewInt(int64(hs.Hash[i])))
		bitsSoFar += 8
	}
	acc.Lsh(acc, uint(sizeBits))
	acc.Or(acc, new(big.Int).SetUint64(size))
	bitsSoFar += sizeBits

	tailDigits := bitsSoFar / 5
	mask := big.NewInt(0x1f)
	for i := 0; i < tailDigits; i++ {
		shift := bitsSoFar - 5*(i+1)
		v := new(big.Int).Rsh(acc, uint(shift))
		v.And(v, mask)
		digits = append(digits, base32.Digit(int(v.Int64())))
	}
	return string(digits)
}

// FromBase32 decodes a base-32 token into a HashAndSize. It reads 5 bits
// from each digit, using the first NumBytes*8 bits for the hash and the
// remainder for the size. It returns ok=false if s contains a character
// that isn't a base-32 digit, if there are too few digits to fill the
// hash, if the size overflows an int64, or if the size was encoded with 5
// or more leading zero bits (non-canonical: the same value could have been
// written with fewer digits, and tokens must have exactly one valid
// encoding).
func FromBase32(s string) (hs HashAndSize, ok bool) {
	var value uint64
	bitsInValue := 0
	i := 0
	failed := false

	getByte := func() byte {
		if failed {
			return 0
		}
		for bitsInValue < 8 {
			if i >= len(s) {
				failed = true
				return 0
			}
			d, dok := base32.Val(s[i])
			if !dok {
				failed = true
				return 0
			}
			value = value<<5 | uint64(d)
			bitsInValue += 5
			i++
		}
		bitsInValue -= 8
		r := byte(value >> uint(bitsInValue))
		value &^= ^uint64(0) << uint(bitsInValue)
		return r
	}

	var hashBytes [NumBytes]byte
	for j := range hashBytes {
		hashBytes[j] = getByte()
	}

	for !failed && i < len(s) {
		d, dok := base32.Val(s[i])
		if !dok {
			failed = true
		} else if bits.LeadingZeros64(value) < 6 {
			// Shifting in 5 more bits would overflow 63 significant bits.
			failed = true
		} else {
			value = value<<5 | uint64(d)
		}
		i++
		bitsInValue += 5
	}
	if failed {
		return HashAndSize{}, false
	}

	actualBitsInValue := 64 - bits.LeadingZeros64(value)
	if bitsInValue-actualBitsInValue >= 5 {
		// The size was encoded with more digits than necessary.
		return HashAndSize{}, false
	}
	return HashAndSize{Hash: Hash(hashBytes), Size: int64(value)}, true
}
