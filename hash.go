package fmsketch

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/dgryski/go-metro"
)

// DigestBits is the width of a Digest and of every sketch bitmap
const DigestBits = 128

// metroSeed is fixed so every worker computes the same metro digests
const metroSeed = 1373

// Digest is the fixed-width hash of a value's canonical byte representation
type Digest [DigestBits / 8]byte

// Hi returns the high-order 64 bits of the digest
func (d Digest) Hi() uint64 {
	return binary.BigEndian.Uint64(d[:8])
}

// Lo returns the low-order 64 bits of the digest
func (d Digest) Lo() uint64 {
	return binary.BigEndian.Uint64(d[8:])
}

// IsZero reports whether no bit of the digest is set
func (d Digest) IsZero() bool {
	return d.Hi() == 0 && d.Lo() == 0
}

// RightmostOne returns the 0-based position of the least significant set
// bit of the digest. ok is false for the all-zero digest.
func (d Digest) RightmostOne() (pos uint, ok bool) {
	if lo := d.Lo(); lo != 0 {
		return uint(bits.TrailingZeros64(lo)), true
	}
	if hi := d.Hi(); hi != 0 {
		return 64 + uint(bits.TrailingZeros64(hi)), true
	}
	return 0, false
}

func digestFromPair(hi, lo uint64) Digest {
	var d Digest
	binary.BigEndian.PutUint64(d[:8], hi)
	binary.BigEndian.PutUint64(d[8:], lo)
	return d
}

// Hasher selects the function used to digest values. All partial states
// taking part in one aggregation must use the same Hasher.
type Hasher uint8

const (
	// MD5Hasher digests values with MD5
	MD5Hasher Hasher = iota
	// Murmur3Hasher digests values with the 128-bit x64 variant of murmur3
	Murmur3Hasher
	// MetroHasher digests values with metrohash128
	MetroHasher
)

// Valid reports whether h is a known hasher
func (h Hasher) Valid() bool {
	return h <= MetroHasher
}

func (h Hasher) String() string {
	switch h {
	case MD5Hasher:
		return "md5"
	case Murmur3Hasher:
		return "murmur3"
	case MetroHasher:
		return "metro"
	default:
		return fmt.Sprintf("hasher(%d)", uint8(h))
	}
}

// ParseHasher returns the Hasher named by _name_
func ParseHasher(name string) (Hasher, error) {
	switch name {
	case "md5", "":
		return MD5Hasher, nil
	case "murmur3":
		return Murmur3Hasher, nil
	case "metro":
		return MetroHasher, nil
	}
	return 0, fmt.Errorf("fmsketch: unknown hasher %q", name)
}

// Digest hashes _data_. It panics for an unknown hasher.
func (h Hasher) Digest(data []byte) Digest {
	switch h {
	case MD5Hasher:
		return md5.Sum(data)
	case Murmur3Hasher:
		return digestFromPair(sum128(data))
	case MetroHasher:
		return digestFromPair(metro.Hash128(data, metroSeed))
	}
	panic(fmt.Sprintf("fmsketch: unknown hasher %d", uint8(h)))
}
