package fmsketch

import "math"

// Phi is the Flajolet-Martin bias correction constant
const Phi = 0.77351

// runCounter is implemented by sketches able to report the leading-ones run
// of each of their bitmaps
type runCounter interface {
	NumMaps() uint
	LeadingOnes(m uint) uint
}

// Estimate returns the Flajolet-Martin estimate of the number of distinct
// values recorded in _s_. The leading-ones runs of all bitmaps are summed
// to S and the estimate is ceil(numMaps/Phi * 2^(S/numMaps)).
func Estimate(s runCounter) uint64 {
	var sum uint64
	for m := uint(0); m < s.NumMaps(); m++ {
		sum += uint64(s.LeadingOnes(m))
	}
	return estimateFromRuns(s.NumMaps(), sum)
}

func estimateFromRuns(numMaps uint, sum uint64) uint64 {
	n := float64(numMaps)
	return uint64(math.Ceil((n / Phi) * math.Pow(2, float64(sum)/n)))
}

// leadingOnes returns the leading-ones run of the bitmap of _width_ bits
// packed MSB first at the start of _data_
func leadingOnes(data []byte, width uint) uint {
	var run uint
	for _, b := range data[:width/8] {
		if b != 0xff {
			for b&0x80 != 0 {
				run++
				b <<= 1
			}
			return run
		}
		run += 8
	}
	return run
}

// relativeError is the standard error of FM with stochastic averaging
// over _numMaps_ bitmaps
func relativeError(numMaps uint) float64 {
	return 0.78 / math.Sqrt(float64(numMaps))
}
