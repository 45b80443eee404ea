package fmsketch

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
)

func TestExactCounterInsert(t *testing.T) {
	e := NewExactCounter(10, 64)
	for _, v := range []string{"pear", "apple", "fig", "apple", "pear"} {
		e.Insert([]byte(v))
	}
	if e.Count() != 3 {
		t.Fatalf("expected 3 distinct values, got %d", e.Count())
	}
	values := e.Values()
	expected := []string{"apple", "fig", "pear"}
	for i := range expected {
		if string(values[i]) != expected[i] {
			t.Errorf("value %d should be %s, got %s", i, expected[i], values[i])
		}
	}
	if e.StorageUsed() != len("pearapplefig") {
		t.Errorf("storage should only hold distinct values, used %d bytes", e.StorageUsed())
	}
	if !e.Contains([]byte("fig")) || e.Contains([]byte("kiwi")) {
		t.Error("unexpected membership")
	}
}

func TestExactCounterTryInsert(t *testing.T) {
	e := NewExactCounter(4, 8)
	if res, _ := e.TryInsert([]byte("abcdef")); res != Inserted {
		t.Errorf("expected inserted, got %s", res)
	}
	if res, _ := e.TryInsert([]byte("abcdef")); res != AlreadyPresent {
		t.Errorf("expected already present, got %s", res)
	}
	if res, _ := e.TryInsert([]byte("xyz")); res != InsufficientStorage {
		t.Errorf("expected insufficient storage, got %s", res)
	}
	if e.Count() != 1 || e.StorageUsed() != 6 {
		t.Errorf("failed insert should not change the counter")
	}
	if e.StorageSize() != 8 {
		t.Errorf("TryInsert should never grow storage, size %d", e.StorageSize())
	}
}

func TestExactCounterGrowsStorage(t *testing.T) {
	e := NewExactCounter(100, 4)
	for i := 0; i < 100; i++ {
		added, err := e.Insert([]byte("value-" + strconv.Itoa(i)))
		if err != nil || !added {
			t.Fatalf("insert %d failed: %v %v", i, added, err)
		}
	}
	if e.StorageSize() < e.StorageUsed() {
		t.Errorf("storage size %d smaller than used %d", e.StorageSize(), e.StorageUsed())
	}
	for i := 0; i < 100; i++ {
		if !e.Contains([]byte("value-" + strconv.Itoa(i))) {
			t.Errorf("value-%d lost after growing", i)
		}
	}
}

func TestExactCounterCapacity(t *testing.T) {
	e := NewExactCounter(2, 16)
	e.Insert([]byte("a"))
	e.Insert([]byte("b"))
	if !e.Full() {
		t.Fatal("counter should be full")
	}
	if added, err := e.Insert([]byte("a")); err != nil || added {
		t.Errorf("present value should be accepted by a full counter, got %v %v", added, err)
	}
	_, err := e.Insert([]byte("c"))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestExactCounterEmbeddedZeroBytes(t *testing.T) {
	e := NewExactCounter(10, 16)
	e.Insert([]byte{'a', 0, 'b'})
	e.Insert([]byte{'a'})
	e.Insert([]byte{'a', 0})
	if e.Count() != 3 {
		t.Errorf("values differing after a zero byte must be distinct, got %d", e.Count())
	}
	e.Insert([]byte{})
	if e.Count() != 4 || !e.Contains(nil) {
		t.Errorf("empty value should be stored once")
	}
}

func TestExactCounterEachIsSorted(t *testing.T) {
	e := NewExactCounter(50, 0)
	for i := 50; i > 0; i-- {
		e.Insert([]byte(strconv.Itoa(i)))
	}
	var prev []byte
	n := 0
	e.Each(func(v []byte) {
		if prev != nil && bytes.Compare(prev, v) >= 0 {
			t.Errorf("%s visited after %s", v, prev)
		}
		prev = append(prev[:0], v...)
		n++
	})
	if n != 50 {
		t.Errorf("expected 50 values, visited %d", n)
	}
}

func TestExactCounterCloneEquals(t *testing.T) {
	e := NewExactCounter(10, 32)
	f := NewExactCounter(10, 8)
	for _, v := range []string{"x", "y", "z"} {
		e.Insert([]byte(v))
	}
	for _, v := range []string{"z", "x", "y"} {
		f.Insert([]byte(v))
	}
	if !e.Equals(f) {
		t.Error("counters with the same values should be equal")
	}
	c := e.Clone()
	c.Insert([]byte("w"))
	if e.Equals(c) || e.Count() != 3 {
		t.Error("clone should be independent")
	}
}

func TestNewExactCounterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("zero capacity should panic")
		}
	}()
	NewExactCounter(0, 10)
}
