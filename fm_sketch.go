/*
Package fmsketch implements a COUNT(DISTINCT) aggregate that counts exactly
while the number of distinct values is small and switches to a
Flajolet-Martin sketch with stochastic averaging once it grows.
Refer: http://algo.inria.fr/flajolet/Publications/FlMa85.pdf

 1. ExactCounter: a sorted, deduplicating directory of byte strings holding
    up to MinVals distinct values.
 2. SketchBitmap: NumMaps bitmaps of MapWidth bits updated from a 128-bit
    digest of every value. SketchBitmapRedis keeps the bitmaps in Redis.
 3. FMSketch: the partial aggregate switching from the former to the latter,
    with Merge to combine partials computed in parallel and a binary and
    JSON encoding to move them between processes.

PartialStore implementations keep encoded partials in Redis or SQLite, and
Aggregate drives FMSketch through a host's transition, combine and final
callbacks.
*/
package fmsketch

import (
	"go.uber.org/zap"
)

// Mode tells which representation an FMSketch currently uses
type Mode uint8

const (
	// ModeEmpty is the mode of a sketch that never saw a value
	ModeEmpty Mode = iota
	// ModeExact counts distinct values exactly in an ExactCounter
	ModeExact
	// ModeSketch estimates distinct values with a SketchBitmap
	ModeSketch
)

func (m Mode) String() string {
	switch m {
	case ModeEmpty:
		return "empty"
	case ModeExact:
		return "exact"
	case ModeSketch:
		return "sketch"
	}
	return "unknown"
}

// partialState is either an *ExactCounter or a *SketchBitmap
type partialState interface {
	mode() Mode
	distinct() uint64
}

func (e *ExactCounter) mode() Mode { return ModeExact }

func (e *ExactCounter) distinct() uint64 { return uint64(e.Count()) }

func (s *SketchBitmap) mode() Mode { return ModeSketch }

func (s *SketchBitmap) distinct() uint64 { return s.Count() }

// FMSketch is the partial aggregate of a COUNT(DISTINCT) computation.
// It counts exactly while it holds fewer than MinVals distinct values and
// switches for good to a Flajolet-Martin sketch when one more distinct
// value arrives. _state_ is nil until the first insert.
//
// An FMSketch is owned by a single worker and isn't safe for concurrent
// use; partial sketches of different workers are combined with Merge.
type FMSketch struct {
	hasher Hasher
	state  partialState
	log    *zap.SugaredLogger
}

// Option configures an FMSketch
type Option func(*FMSketch)

// WithHasher selects the hash function of the sketch. Sketches that are
// merged together must use the same hasher.
func WithHasher(h Hasher) Option {
	return func(f *FMSketch) {
		f.hasher = h
	}
}

// WithLogger sets the logger used to report mode transitions and merges
func WithLogger(log *zap.SugaredLogger) Option {
	return func(f *FMSketch) {
		if log != nil {
			f.log = log
		}
	}
}

// NewFMSketch creates an empty sketch. It panics if the selected hasher
// is unknown.
func NewFMSketch(opts ...Option) *FMSketch {
	f := &FMSketch{hasher: MD5Hasher, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(f)
	}
	if !f.hasher.Valid() {
		panic("fmsketch: unknown hasher")
	}
	return f
}

// Hasher returns the hash function of the sketch
func (f *FMSketch) Hasher() Hasher {
	return f.hasher
}

// Mode returns the current representation
func (f *FMSketch) Mode() Mode {
	if f == nil || f.state == nil {
		return ModeEmpty
	}
	return f.state.mode()
}

// Insert adds _v_ to the set of values seen.
// In exact mode duplicates are absorbed by the counter. When the counter
// is full and _v_ is new, every stored value is replayed into a fresh
// sketch, the counter is dropped and _v_ goes to the sketch. On error the
// sketch is left as it was.
func (f *FMSketch) Insert(v []byte) error {
	if f == nil {
		return ErrInvocationContext
	}
	switch st := f.state.(type) {
	case nil:
		e := newDefaultExactCounter()
		if _, err := e.Insert(v); err != nil {
			return err
		}
		f.state = e
	case *ExactCounter:
		if st.Count() < st.Capacity() {
			_, err := st.Insert(v)
			return err
		}
		if st.Contains(v) {
			return nil
		}
		sketch, err := NewSketchBitmap(f.hasher)
		if err != nil {
			return err
		}
		st.Each(sketch.Update)
		sketch.Update(v)
		f.log.Debugw("exact counter full, switched to sketch", "distinct", st.Count(), "hasher", f.hasher)
		f.state = sketch
	case *SketchBitmap:
		st.Update(v)
	}
	return nil
}

// InsertString is Insert for strings
func (f *FMSketch) InsertString(v string) error {
	return f.Insert([]byte(v))
}

// Count returns the number of distinct values: exact in exact mode, the
// FM estimate in sketch mode and 0 for a sketch that never saw a value
func (f *FMSketch) Count() uint64 {
	if f == nil || f.state == nil {
		return 0
	}
	return f.state.distinct()
}

// Clone returns a deep copy of the sketch
func (f *FMSketch) Clone() *FMSketch {
	c := &FMSketch{hasher: f.hasher, log: f.log}
	switch st := f.state.(type) {
	case *ExactCounter:
		c.state = st.Clone()
	case *SketchBitmap:
		c.state = st.Clone()
	}
	return c
}

// Equals checks if two sketches are in the same mode and hold the same
// values (exact mode) or the same bits (sketch mode)
func (f *FMSketch) Equals(g *FMSketch) bool {
	if f.hasher != g.hasher || f.Mode() != g.Mode() {
		return false
	}
	switch st := f.state.(type) {
	case *ExactCounter:
		return st.Equals(g.state.(*ExactCounter))
	case *SketchBitmap:
		return st.Equals(g.state.(*SketchBitmap))
	}
	return true
}

// Reset drops everything the sketch has seen
func (f *FMSketch) Reset() {
	f.state = nil
}
