package fmsketch

import (
	"errors"
	"math"
	"testing"
)

func TestMergeEmpty(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch()
	fill(b, 0, 10)
	m, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mode() != ModeExact || m.Count() != 10 {
		t.Errorf("expected 10 in exact mode, got %d in %s mode", m.Count(), m.Mode())
	}
	if a.Mode() != ModeEmpty || b.Mode() != ModeEmpty {
		t.Error("merge should consume its inputs")
	}

	m, err = Merge(NewFMSketch(), NewFMSketch())
	if err != nil || m.Mode() != ModeEmpty || m.Count() != 0 {
		t.Errorf("merging empty sketches should give an empty one, got %v %v", m, err)
	}
}

func TestMergeExactExact(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch()
	fill(a, 0, 600)
	fill(b, 400, 1000)
	m, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mode() != ModeExact || m.Count() != 1000 {
		t.Errorf("expected 1000 in exact mode, got %d in %s mode", m.Count(), m.Mode())
	}
}

func TestMergeExactExactOverflow(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch()
	fill(a, 0, MinVals)
	fill(b, MinVals-10, MinVals+10)
	m, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mode() != ModeSketch {
		t.Fatalf("counters that don't fit together should merge into a sketch, got %s", m.Mode())
	}
	expected := NewFMSketch()
	fill(expected, 0, MinVals+10)
	if !m.Equals(expected) {
		t.Error("merged sketch should equal the sketch of the union")
	}
}

func TestMergeExactSketch(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch()
	fill(a, 0, MinVals+100)
	fill(b, MinVals, MinVals+200)
	m, err := Merge(b, a)
	if err != nil {
		t.Fatal(err)
	}
	expected := NewFMSketch()
	fill(expected, 0, MinVals+200)
	if m.Mode() != ModeSketch || !m.Equals(expected) {
		t.Error("merged sketch should equal the sketch of the union")
	}
}

func TestMergeSubsetIsIdentity(t *testing.T) {
	a := NewFMSketch()
	fill(a, 0, 2*MinVals)
	expected := a.Clone()
	b := NewFMSketch()
	fill(b, 500, 800)
	m, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Equals(expected) {
		t.Error("merging values already in the sketch should not change a bit")
	}
}

func TestMergeSketchSketch(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch()
	fill(a, 0, 20000)
	fill(b, 10000, 30000)
	m, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	expected := NewFMSketch()
	fill(expected, 0, 30000)
	if !m.Equals(expected) {
		t.Error("merged sketch should equal the sketch of the union")
	}
}

func TestMergeErrors(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch(WithHasher(MetroHasher))
	fill(a, 0, 5)
	fill(b, 0, 5)
	if _, err := Merge(a, b); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
	if a.Count() != 5 || b.Count() != 5 {
		t.Error("failed merge should leave its inputs alone")
	}
	if _, err := Merge(a, a); !errors.Is(err, ErrInvocationContext) {
		t.Errorf("expected ErrInvocationContext, got %v", err)
	}
	if _, err := Merge(nil, a); !errors.Is(err, ErrInvocationContext) {
		t.Errorf("expected ErrInvocationContext, got %v", err)
	}
}

func TestMergeAll(t *testing.T) {
	partials := make([]*FMSketch, 7)
	for i := range partials {
		partials[i] = NewFMSketch()
		fill(partials[i], i*5000, (i+2)*5000)
	}
	m, err := MergeAll(partials...)
	if err != nil {
		t.Fatal(err)
	}
	expected := NewFMSketch()
	fill(expected, 0, 40000)
	if !m.Equals(expected) {
		t.Error("merge of all partials should equal the sketch of all values")
	}
	for i, p := range partials {
		if p.Mode() != ModeEmpty && p != m {
			t.Errorf("partial %d should have been consumed", i)
		}
	}

	small := []*FMSketch{NewFMSketch(), NewFMSketch(), NewFMSketch()}
	fill(small[0], 0, 10)
	fill(small[2], 5, 20)
	m, err = MergeAll(small...)
	if err != nil || m.Mode() != ModeExact || m.Count() != 20 {
		t.Errorf("expected 20 in exact mode, got %d in %s mode (%v)", m.Count(), m.Mode(), err)
	}

	m, err = MergeAll()
	if err != nil || m.Mode() != ModeEmpty {
		t.Errorf("merge of nothing should be empty, got %v", err)
	}
}

func TestMergeIdentity(t *testing.T) {
	for _, n := range []int{10, MinVals + 1} {
		x := NewFMSketch()
		fill(x, 0, n)
		expected := x.Clone()
		m, err := Merge(x, NewFMSketch())
		if err != nil || !m.Equals(expected) {
			t.Errorf("Merge(X, Empty) should be X for %d values (%v)", n, err)
		}
		m, err = Merge(NewFMSketch(), m)
		if err != nil || !m.Equals(expected) {
			t.Errorf("Merge(Empty, X) should be X for %d values (%v)", n, err)
		}
	}
}

func TestMergeDisjointPartitions(t *testing.T) {
	a := NewFMSketch()
	b := NewFMSketch()
	fill(a, 0, 10000)
	fill(b, 10000, 20000)
	if a.Mode() != ModeExact || b.Mode() != ModeExact {
		t.Fatal("partitions of 10000 values should count exactly")
	}
	m, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mode() != ModeSketch {
		t.Fatalf("20000 distinct values should merge into a sketch, got %s", m.Mode())
	}
	estimate := float64(m.Count())
	if math.Abs(estimate-20000)/20000 > 0.15 {
		t.Errorf("estimate %.0f too far from 20000", estimate)
	}
}
