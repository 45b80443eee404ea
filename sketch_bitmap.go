package fmsketch

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/kwertop/fmsketch/internal/util"
)

const (
	// NumMaps is the number of independent bitmaps in a sketch
	NumMaps = 256
	// MapWidth is the number of bits in every bitmap
	MapWidth = DigestBits
	// MaxNumMaps is the largest number of bitmaps the binary encoding can
	// describe
	MaxNumMaps = math.MaxUint16
)

// BaseSketch is implemented by the in-memory and the Redis backed FM sketch
type BaseSketch interface {
	NumMaps() uint
	MapWidth() uint
	Hasher() Hasher
	RelativeError() float64
}

// AbstractSketch carries the configuration shared by every FM sketch and
// the rule mapping a digest onto a bit.
// _numMaps_ is the number of bitmaps, _mapWidth_ the bits per bitmap and
// _hasher_ the function digesting inserted values.
type AbstractSketch struct {
	numMaps  uint
	mapWidth uint
	hasher   Hasher
}

// MakeAbstractSketch validates and returns the configuration of a sketch
// with _numMaps_ bitmaps digesting values with _hasher_
func MakeAbstractSketch(numMaps uint, hasher Hasher) (*AbstractSketch, error) {
	if numMaps == 0 || numMaps > MaxNumMaps {
		return nil, errors.Errorf("fmsketch: number of bitmaps must be between 1 and %d, got %d", MaxNumMaps, numMaps)
	}
	if !hasher.Valid() {
		return nil, errors.Errorf("fmsketch: unknown hasher %d", uint8(hasher))
	}
	return &AbstractSketch{numMaps: numMaps, mapWidth: MapWidth, hasher: hasher}, nil
}

// NumMaps returns the number of bitmaps
func (s *AbstractSketch) NumMaps() uint {
	return s.numMaps
}

// MapWidth returns the number of bits per bitmap
func (s *AbstractSketch) MapWidth() uint {
	return s.mapWidth
}

// Hasher returns the hash function used for inserted values
func (s *AbstractSketch) Hasher() Hasher {
	return s.hasher
}

// RelativeError returns the standard error of the estimate
func (s *AbstractSketch) RelativeError() float64 {
	return relativeError(s.numMaps)
}

func (s *AbstractSketch) numBits() uint {
	return s.numMaps * s.mapWidth
}

func (s *AbstractSketch) numBytes() uint {
	return util.Ceil8(s.numBits())
}

// bitIndex returns the global index of the bit _d_ turns on.
// Each digest updates one bitmap only, chosen by the high-order 64 bits
// mod numMaps. Within it the bit r positions from the left edge is set,
// r being the position of the rightmost one of the digest. ok is false for
// the all-zero digest, which sets nothing.
func (s *AbstractSketch) bitIndex(d Digest) (uint, bool) {
	r, ok := d.RightmostOne()
	if !ok {
		return 0, false
	}
	m := uint(d.Hi() % uint64(s.numMaps))
	return m*s.mapWidth + r, true
}

func (s *AbstractSketch) compatible(o *AbstractSketch) error {
	if s.numMaps != o.numMaps || s.mapWidth != o.mapWidth {
		return errors.Wrapf(ErrSizeMismatch, "%dx%d bits vs %dx%d bits", s.numMaps, s.mapWidth, o.numMaps, o.mapWidth)
	}
	if s.hasher != o.hasher {
		return errors.Wrapf(ErrSizeMismatch, "hasher %s vs %s", s.hasher, o.hasher)
	}
	return nil
}

// SketchBitmap is the in-memory FM sketch: numMaps bitmaps of mapWidth
// bits laid out back to back in one bitset. Bit mapWidth*i + k is the k-th
// bit from the left edge of bitmap i. Bits are only ever set.
type SketchBitmap struct {
	AbstractSketch
	set *bitset.BitSet
}

// NewSketchBitmap creates an empty sketch with NumMaps bitmaps
func NewSketchBitmap(hasher Hasher) (*SketchBitmap, error) {
	return NewSketchBitmapWithMaps(NumMaps, hasher)
}

// NewSketchBitmapWithMaps creates an empty sketch with _numMaps_ bitmaps
func NewSketchBitmapWithMaps(numMaps uint, hasher Hasher) (*SketchBitmap, error) {
	abstract, err := MakeAbstractSketch(numMaps, hasher)
	if err != nil {
		return nil, err
	}
	return &SketchBitmap{*abstract, bitset.New(abstract.numBits())}, nil
}

// Update digests _data_ and records it in the sketch
func (s *SketchBitmap) Update(data []byte) {
	s.UpdateDigest(s.hasher.Digest(data))
}

// UpdateString is Update for strings
func (s *SketchBitmap) UpdateString(data string) {
	s.Update([]byte(data))
}

// UpdateDigest records an already computed digest in the sketch
func (s *SketchBitmap) UpdateDigest(d Digest) {
	if i, ok := s.bitIndex(d); ok {
		s.set.Set(i)
	}
}

// Has checks if bit _pos_ (counted from the left edge) of bitmap _m_ is set
func (s *SketchBitmap) Has(m, pos uint) bool {
	return s.set.Test(m*s.mapWidth + pos)
}

// LeadingOnes returns the number of consecutive set bits of bitmap _m_
// starting at its left edge
func (s *SketchBitmap) LeadingOnes(m uint) uint {
	start := m * s.mapWidth
	next, ok := s.set.NextClear(start)
	if !ok || next >= start+s.mapWidth {
		return s.mapWidth
	}
	return next - start
}

// Count returns the FM estimate of the number of distinct values
func (s *SketchBitmap) Count() uint64 {
	return Estimate(s)
}

// BitCount returns the total number of set bits
func (s *SketchBitmap) BitCount() uint {
	return s.set.Count()
}

// Union returns a new sketch holding the bitwise OR of _s_ and _other_
func (s *SketchBitmap) Union(other *SketchBitmap) (*SketchBitmap, error) {
	if err := s.compatible(&other.AbstractSketch); err != nil {
		return nil, err
	}
	return &SketchBitmap{s.AbstractSketch, s.set.Union(other.set)}, nil
}

// Merge ORs _other_ into _s_
func (s *SketchBitmap) Merge(other *SketchBitmap) error {
	if err := s.compatible(&other.AbstractSketch); err != nil {
		return err
	}
	s.set.InPlaceUnion(other.set)
	return nil
}

// Equals checks if two sketches have the same configuration and bits
func (s *SketchBitmap) Equals(other *SketchBitmap) bool {
	if s.compatible(&other.AbstractSketch) != nil {
		return false
	}
	return s.set.Equal(other.set)
}

// Clone returns a deep copy of the sketch
func (s *SketchBitmap) Clone() *SketchBitmap {
	return &SketchBitmap{s.AbstractSketch, s.set.Clone()}
}

// Bytes returns the bits densely packed, bitmap after bitmap, the left
// edge of every bitmap in the most significant bit of its first byte.
// This is also the layout Redis uses for bit offsets.
func (s *SketchBitmap) Bytes() []byte {
	out := make([]byte, s.numBytes())
	for i, ok := s.set.NextSet(0); ok && i < s.numBits(); i, ok = s.set.NextSet(i + 1) {
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

// sketchFromBytes is the inverse of Bytes. _data_ is checked against
// _numMaps_ before anything is allocated.
func sketchFromBytes(numMaps uint, hasher Hasher, data []byte) (*SketchBitmap, error) {
	if numMaps == 0 || numMaps > MaxNumMaps {
		return nil, errors.Wrapf(ErrCorruptState, "%d bitmaps", numMaps)
	}
	if expected := util.Ceil8(numMaps * MapWidth); uint(len(data)) != expected {
		return nil, errors.Wrapf(ErrSizeMismatch, "expected %d bitmap bytes, got %d", expected, len(data))
	}
	s, err := NewSketchBitmapWithMaps(numMaps, hasher)
	if err != nil {
		return nil, err
	}
	for i, b := range data {
		for j := uint(0); b != 0; j++ {
			if b&0x80 != 0 {
				s.set.Set(uint(i)*8 + j)
			}
			b <<= 1
		}
	}
	return s, nil
}
