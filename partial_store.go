package fmsketch

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PartialStore keeps serialized partial sketches so that workers in
// different processes can hand them over to the process doing the final
// merge
type PartialStore interface {
	// Save stores the binary form of _state_ under _key_, replacing any
	// previous state
	Save(ctx context.Context, key string, state *FMSketch) error
	// Load returns the state stored under _key_ or ErrStateNotFound
	Load(ctx context.Context, key string) (*FMSketch, error)
	// Delete removes the state stored under _key_; unknown keys are ignored
	Delete(ctx context.Context, key string) error
	// MergeKeys loads the states stored under _keys_ and merges them
	MergeKeys(ctx context.Context, keys ...string) (*FMSketch, error)
}

// NewPartialKey returns a fresh random key for a partial state
func NewPartialKey() string {
	return uuid.NewString()
}

func decodePartial(key string, data []byte) (*FMSketch, error) {
	f := NewFMSketch()
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrapf(err, "partial state %s", key)
	}
	return f, nil
}

func loadAndMerge(ctx context.Context, store PartialStore, keys []string) (*FMSketch, error) {
	states := make([]*FMSketch, 0, len(keys))
	for _, key := range keys {
		f, err := store.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		states = append(states, f)
	}
	return MergeAll(states...)
}
