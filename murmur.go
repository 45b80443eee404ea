package fmsketch

import (
	"encoding/binary"
	"math/bits"
)

const (
	c1_128    = 0x87c37b91114253d5
	c2_128    = 0x4cf5ad432745937f
	blockSize = 16
)

// sum128 is the x64 128-bit murmur3 with a zero seed
func sum128(data []byte) (h1 uint64, h2 uint64) {
	nblocks := len(data) / blockSize
	for i := 0; i < nblocks; i++ {
		k1 := binary.LittleEndian.Uint64(data[i*blockSize:])
		k2 := binary.LittleEndian.Uint64(data[i*blockSize+8:])

		k1 *= c1_128
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2_128
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2_128
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1_128
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := data[nblocks*blockSize:]
	var k1, k2 uint64
	// tail bytes 8..14 feed k2, 0..7 feed k1
	for i := len(tail) - 1; i >= 8; i-- {
		k2 ^= uint64(tail[i]) << (8 * uint(i-8))
	}
	if len(tail) > 8 {
		k2 *= c2_128
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1_128
		h2 ^= k2
	}
	for i := bitsMin(len(tail), 8) - 1; i >= 0; i-- {
		k1 ^= uint64(tail[i]) << (8 * uint(i))
	}
	if len(tail) > 0 {
		k1 *= c1_128
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2_128
		h1 ^= k1
	}

	h1 ^= uint64(len(data))
	h2 ^= uint64(len(data))

	h1 += h2
	h2 += h1

	h1 = fmix64(h1)
	h2 = fmix64(h2)

	h1 += h2
	h2 += h1

	return h1, h2
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

func bitsMin(a, b int) int {
	if a < b {
		return a
	}
	return b
}
