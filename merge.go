package fmsketch

import (
	"sync"

	"github.com/pkg/errors"
)

// Merge combines two partial sketches computed over different partitions
// into one. It consumes _a_ and _b_: on success both are reset to empty
// and the returned sketch owns the combined state. On error the inputs are
// left untouched.
//
//   - an empty side yields the other side
//   - sketch and sketch are ORed together
//   - exact and exact: the smaller counter is inserted into the bigger one
//     when both fit in its capacity, otherwise both are replayed into a
//     fresh sketch
//   - exact and sketch: the exact values are replayed into the sketch
func Merge(a, b *FMSketch) (*FMSketch, error) {
	if a == nil || b == nil {
		return nil, ErrInvocationContext
	}
	if a == b {
		return nil, errors.Wrap(ErrInvocationContext, "fmsketch: can't merge a sketch with itself")
	}
	if a.hasher != b.hasher {
		return nil, errors.Wrapf(ErrSizeMismatch, "hasher %s vs %s", a.hasher, b.hasher)
	}
	state, err := mergeStates(a.hasher, a.state, b.state)
	if err != nil {
		return nil, err
	}
	merged := &FMSketch{hasher: a.hasher, state: state, log: a.log}
	a.log.Debugw("merged partial sketches", "left", a.Mode(), "right", b.Mode(), "result", merged.Mode())
	a.state = nil
	b.state = nil
	return merged, nil
}

func mergeStates(hasher Hasher, x, y partialState) (partialState, error) {
	if x == nil {
		return y, nil
	}
	if y == nil {
		return x, nil
	}
	switch xs := x.(type) {
	case *SketchBitmap:
		switch ys := y.(type) {
		case *SketchBitmap:
			if err := xs.Merge(ys); err != nil {
				return nil, err
			}
			return xs, nil
		case *ExactCounter:
			ys.Each(xs.Update)
			return xs, nil
		}
	case *ExactCounter:
		switch ys := y.(type) {
		case *SketchBitmap:
			xs.Each(ys.Update)
			return ys, nil
		case *ExactCounter:
			return mergeExact(hasher, xs, ys)
		}
	}
	return nil, errors.Errorf("fmsketch: unexpected partial states %T and %T", x, y)
}

func mergeExact(hasher Hasher, x, y *ExactCounter) (partialState, error) {
	big, small := y, x
	if x.Count() > y.Count() {
		big, small = x, y
	}
	if big.Count()+small.Count() <= big.Capacity() {
		var err error
		small.Each(func(v []byte) {
			if err == nil {
				_, err = big.Insert(v)
			}
		})
		if err != nil {
			return nil, err
		}
		return big, nil
	}
	sketch, err := NewSketchBitmap(hasher)
	if err != nil {
		return nil, err
	}
	x.Each(sketch.Update)
	y.Each(sketch.Update)
	return sketch, nil
}

// MergeAll combines _sketches_ pairwise in a balanced tree, merging the
// pairs of each level concurrently. All inputs are consumed. With no input
// an empty MD5 sketch is returned.
func MergeAll(sketches ...*FMSketch) (*FMSketch, error) {
	if len(sketches) == 0 {
		return NewFMSketch(), nil
	}
	level := append([]*FMSketch(nil), sketches...)
	for len(level) > 1 {
		next := make([]*FMSketch, (len(level)+1)/2)
		errs := make([]error, len(next))
		var wg sync.WaitGroup
		for i := 0; i+1 < len(level); i += 2 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next[i/2], errs[i/2] = Merge(level[i], level[i+1])
			}(i)
		}
		if len(level)%2 == 1 {
			next[len(next)-1] = level[len(level)-1]
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		level = next
	}
	if level[0] == nil {
		return nil, ErrInvocationContext
	}
	return level[0], nil
}
