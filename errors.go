package fmsketch

import "github.com/pkg/errors"

var (
	// ErrInvocationContext is returned when an operation is invoked outside of
	// a valid accumulation context, e.g. on a nil sketch or aggregate.
	ErrInvocationContext = errors.New("fmsketch: function only works inside an aggregation context")

	// ErrCapacityExceeded is returned when a value is inserted into an
	// ExactCounter whose directory is already full. Callers check Count()
	// against Capacity() before inserting, so this signals a broken invariant.
	ErrCapacityExceeded = errors.New("fmsketch: attempt to insert into full exact counter")

	// ErrStorageExhausted is returned when the storage area of an
	// ExactCounter is still too small after growing it.
	ErrStorageExhausted = errors.New("fmsketch: insufficient storage in exact counter")

	// ErrSizeMismatch is returned when two sketches with different geometry
	// or hash functions are combined.
	ErrSizeMismatch = errors.New("fmsketch: sketch configurations don't match")

	// ErrCorruptState is returned when a serialized state can't be decoded.
	ErrCorruptState = errors.New("fmsketch: corrupt serialized state")

	// ErrStateNotFound is returned by a PartialStore for unknown keys.
	ErrStateNotFound = errors.New("fmsketch: partial state not found")

	// ErrRedisNotInitialized is returned by Redis backed structures when
	// MakeRedisClient hasn't been called.
	ErrRedisNotInitialized = errors.New("fmsketch: redis client not initialized, call MakeRedisClient first")
)
