/*
Package util holds the small helpers shared by the fmsketch data structures
and their Redis-backed variants.
*/
package util

import (
	"math/rand"
	"sync"
	"time"
	"unsafe"
)

var (
	src     = rand.NewSource(time.Now().UnixNano())
	srcLock sync.Mutex
)

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
const (
	letterIdxBits = 6                    // 6 bits to represent a letter index
	letterIdxMask = 1<<letterIdxBits - 1 // All 1-bits, as many as letterIdxBits
	letterIdxMax  = 63 / letterIdxBits   // # of letter indices fitting in 63 bits
)

// GenerateRandomString returns a random alphabetic string of length _n_.
// It is used to mint Redis keys for sketches created without an explicit key.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	srcLock.Lock()
	defer srcLock.Unlock()
	// A src.Int63() generates 63 random bits, enough for letterIdxMax characters!
	for i, cache, remain := n-1, src.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = src.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}

	return *(*string)(unsafe.Pointer(&b))
}

// Ceil8 rounds the bit count _bits_ up to whole bytes
func Ceil8(bits uint) uint {
	return (bits + 7) / 8
}
