package fmsketch

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
)

const (
	// MinVals is the number of distinct values counted exactly before
	// switching to the FM sketch. FM estimates fall below 1% error around
	// 12k distinct values.
	MinVals = 1024 * 12

	// initialStorage guesses 8 bytes per stored value; the storage area
	// grows when the guess is too low
	initialStorage = 8 * MinVals
)

// InsertResult is the outcome of ExactCounter.TryInsert
type InsertResult int

const (
	// Inserted means the value was absent and has been stored
	Inserted InsertResult = iota
	// AlreadyPresent means the value was stored before; nothing changed
	AlreadyPresent
	// InsufficientStorage means the value is absent but doesn't fit into
	// the storage area; nothing changed
	InsufficientStorage
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already present"
	case InsufficientStorage:
		return "insufficient storage"
	}
	return "unknown"
}

// dirEntry locates one stored value inside the storage area
type dirEntry struct {
	offset uint32
	length uint32
}

// ExactCounter is a deduplicating, sorted directory of byte strings.
// _dir_ holds one entry per distinct value ordered by bytes.Compare of the
// values it points to. _storage_ holds the value bytes back to back in
// insertion order; len(storage) is the used part, cap(storage) the size of
// the storage area. _capacity_ bounds the number of directory entries.
type ExactCounter struct {
	capacity int
	dir      []dirEntry
	storage  []byte
}

// NewExactCounter creates an empty ExactCounter with room for _capacity_
// values and a storage area of _storageSize_ bytes
func NewExactCounter(capacity, storageSize int) *ExactCounter {
	if capacity <= 0 {
		panic("fmsketch: exact counter capacity must be positive")
	}
	if storageSize < 0 {
		storageSize = 0
	}
	return &ExactCounter{
		capacity: capacity,
		dir:      make([]dirEntry, 0, capacity),
		storage:  make([]byte, 0, storageSize),
	}
}

// newDefaultExactCounter sizes the counter the way the aggregate state needs it
func newDefaultExactCounter() *ExactCounter {
	return NewExactCounter(MinVals, initialStorage)
}

// Count returns the number of distinct values stored
func (e *ExactCounter) Count() int {
	return len(e.dir)
}

// Capacity returns the maximum number of distinct values
func (e *ExactCounter) Capacity() int {
	return e.capacity
}

// Full reports whether the directory has no free slot
func (e *ExactCounter) Full() bool {
	return len(e.dir) >= e.capacity
}

// StorageSize returns the size of the storage area in bytes
func (e *ExactCounter) StorageSize() int {
	return cap(e.storage)
}

// StorageUsed returns the number of bytes of the storage area in use
func (e *ExactCounter) StorageUsed() int {
	return len(e.storage)
}

func (e *ExactCounter) value(i int) []byte {
	d := e.dir[i]
	return e.storage[d.offset : d.offset+d.length : d.offset+d.length]
}

// search returns the directory slot of _v_ and whether it is stored there
func (e *ExactCounter) search(v []byte) (int, bool) {
	i := sort.Search(len(e.dir), func(i int) bool {
		return bytes.Compare(e.value(i), v) >= 0
	})
	return i, i < len(e.dir) && bytes.Equal(e.value(i), v)
}

// Contains checks if _v_ is stored in the counter
func (e *ExactCounter) Contains(v []byte) bool {
	_, ok := e.search(v)
	return ok
}

// TryInsert stores _v_ if it isn't stored yet and fits into the storage
// area. It never grows the storage area. The directory must have a free
// slot, otherwise ErrCapacityExceeded is returned.
func (e *ExactCounter) TryInsert(v []byte) (InsertResult, error) {
	i, ok := e.search(v)
	if ok {
		return AlreadyPresent, nil
	}
	if e.Full() {
		return 0, errors.Wrapf(ErrCapacityExceeded, "capacity %d", e.capacity)
	}
	if cap(e.storage)-len(e.storage) < len(v) {
		return InsufficientStorage, nil
	}
	offset := len(e.storage)
	e.storage = append(e.storage, v...)
	e.dir = append(e.dir, dirEntry{})
	copy(e.dir[i+1:], e.dir[i:])
	e.dir[i] = dirEntry{uint32(offset), uint32(len(v))}
	return Inserted, nil
}

// Insert stores _v_, growing the storage area to at least twice its size
// plus len(v) when it is too small. It returns true if _v_ was absent.
func (e *ExactCounter) Insert(v []byte) (bool, error) {
	res, err := e.TryInsert(v)
	if err != nil {
		return false, err
	}
	switch res {
	case Inserted:
		return true, nil
	case AlreadyPresent:
		return false, nil
	}
	e.grow(2*cap(e.storage) + len(v))
	res, err = e.TryInsert(v)
	if err != nil {
		return false, err
	}
	if res != Inserted {
		return false, errors.Wrapf(ErrStorageExhausted, "storage %d bytes, value %d bytes", cap(e.storage), len(v))
	}
	return true, nil
}

// grow moves the stored bytes into a new storage area of _size_ bytes
func (e *ExactCounter) grow(size int) {
	storage := make([]byte, len(e.storage), size)
	copy(storage, e.storage)
	e.storage = storage
}

// Values returns copies of the stored values in sorted order
func (e *ExactCounter) Values() [][]byte {
	values := make([][]byte, len(e.dir))
	for i := range e.dir {
		values[i] = append([]byte(nil), e.value(i)...)
	}
	return values
}

// Each calls _fn_ for every stored value in directory (sorted) order.
// Replays into a sketch use this order; it is not the insertion order.
// The slice passed to _fn_ aliases the storage area and must not be
// retained or modified.
func (e *ExactCounter) Each(fn func(v []byte)) {
	for i := range e.dir {
		fn(e.value(i))
	}
}

// Clone returns a deep copy of the counter
func (e *ExactCounter) Clone() *ExactCounter {
	c := &ExactCounter{
		capacity: e.capacity,
		dir:      make([]dirEntry, len(e.dir), e.capacity),
		storage:  make([]byte, len(e.storage), cap(e.storage)),
	}
	copy(c.dir, e.dir)
	copy(c.storage, e.storage)
	return c
}

// Equals checks if two counters hold the same set of values
func (e *ExactCounter) Equals(other *ExactCounter) bool {
	if len(e.dir) != len(other.dir) {
		return false
	}
	for i := range e.dir {
		if !bytes.Equal(e.value(i), other.value(i)) {
			return false
		}
	}
	return true
}
