package fmsketch

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/kwertop/fmsketch/internal/util"
)

// SketchBitmapRedis is the Redis backed FM sketch.
// _key_ holds the Redis key of the string storing the bitmaps. Redis bit
// offsets count from the most significant bit of the first byte, so offset
// mapWidth*i + k is the k-th bit from the left edge of bitmap i, the same
// layout as SketchBitmap.Bytes.
// _metadataKey_ is a Redis hash describing the sketch so that it can be
// reopened with NewSketchBitmapRedisFromKey.
type SketchBitmapRedis struct {
	AbstractSketch
	key         string
	metadataKey string
}

// NewSketchBitmapRedis creates an empty Redis backed sketch with _numMaps_
// bitmaps digesting values with _hasher_
func NewSketchBitmapRedis(numMaps uint, hasher Hasher) (*SketchBitmapRedis, error) {
	abstract, err := MakeAbstractSketch(numMaps, hasher)
	if err != nil {
		return nil, err
	}
	s := &SketchBitmapRedis{
		AbstractSketch: *abstract,
		key:            util.GenerateRandomString(16),
		metadataKey:    util.GenerateRandomString(16),
	}
	if err := s.saveMetadata(); err != nil {
		return nil, err
	}
	if err := s.setBitmaps(make([]byte, s.numBytes())); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSketchBitmapRedisFromKey reopens the sketch described by the hash at
// _metadataKey_
func NewSketchBitmapRedisFromKey(metadataKey string) (*SketchBitmapRedis, error) {
	client, err := sharedRedisClient()
	if err != nil {
		return nil, err
	}
	values, err := client.HGetAll(context.Background(), metadataKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "fmsketch: error fetching sketch metadata from redis")
	}
	if len(values) == 0 {
		return nil, errors.Wrapf(ErrStateNotFound, "metadata key %s", metadataKey)
	}
	numMaps, err := strconv.ParseUint(values["numMaps"], 10, 16)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptState, "numMaps %q", values["numMaps"])
	}
	hasher, err := strconv.ParseUint(values["hasher"], 10, 8)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptState, "hasher %q", values["hasher"])
	}
	abstract, err := MakeAbstractSketch(uint(numMaps), Hasher(hasher))
	if err != nil {
		return nil, errors.Wrap(ErrCorruptState, err.Error())
	}
	return &SketchBitmapRedis{*abstract, values["key"], metadataKey}, nil
}

// Key returns the Redis key of the bitmaps
func (s *SketchBitmapRedis) Key() string {
	return s.key
}

// MetadataKey returns the Redis key of the metadata hash
func (s *SketchBitmapRedis) MetadataKey() string {
	return s.metadataKey
}

// Update digests _data_ and sets the corresponding bit in Redis
func (s *SketchBitmapRedis) Update(data []byte) error {
	return s.UpdateDigest(s.hasher.Digest(data))
}

// UpdateDigest sets the bit of an already computed digest
func (s *SketchBitmapRedis) UpdateDigest(d Digest) error {
	i, ok := s.bitIndex(d)
	if !ok {
		return nil
	}
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	if err := client.SetBit(context.Background(), s.key, int64(i), 1).Err(); err != nil {
		return errors.Wrapf(err, "fmsketch: error setting bit %d of %s", i, s.key)
	}
	return nil
}

// UpdateMulti records all of _values_ in one pipeline
func (s *SketchBitmapRedis) UpdateMulti(values [][]byte) error {
	if len(values) == 0 {
		return nil
	}
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pipe := client.Pipeline()
	for _, v := range values {
		if i, ok := s.bitIndex(s.hasher.Digest(v)); ok {
			pipe.SetBit(ctx, s.key, int64(i), 1)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "fmsketch: error updating %s", s.key)
	}
	return nil
}

// Count returns the FM estimate of the number of distinct values
func (s *SketchBitmapRedis) Count() (uint64, error) {
	data, err := s.bitmaps()
	if err != nil {
		return 0, err
	}
	var sum uint64
	step := s.mapWidth / 8
	for m := uint(0); m < s.numMaps; m++ {
		sum += uint64(leadingOnes(data[m*step:], s.mapWidth))
	}
	return estimateFromRuns(s.numMaps, sum), nil
}

// Merge ORs the bitmaps of _other_ into _s_ inside Redis
func (s *SketchBitmapRedis) Merge(other *SketchBitmapRedis) error {
	if err := s.compatible(&other.AbstractSketch); err != nil {
		return err
	}
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	if err := client.BitOpOr(context.Background(), s.key, s.key, other.key).Err(); err != nil {
		return errors.Wrapf(err, "fmsketch: error merging %s into %s", other.key, s.key)
	}
	return nil
}

// MergeMem ORs an in-memory sketch into _s_
func (s *SketchBitmapRedis) MergeMem(other *SketchBitmap) error {
	if err := s.compatible(&other.AbstractSketch); err != nil {
		return err
	}
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	tmp := s.key + ":" + util.GenerateRandomString(8)
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tmp, other.Bytes(), 0)
		pipe.BitOpOr(ctx, s.key, s.key, tmp)
		pipe.Del(ctx, tmp)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "fmsketch: error merging in-memory sketch into %s", s.key)
	}
	return nil
}

// Equals checks if two Redis sketches have the same configuration and bits
func (s *SketchBitmapRedis) Equals(other *SketchBitmapRedis) (bool, error) {
	if s.compatible(&other.AbstractSketch) != nil {
		return false, nil
	}
	a, err := s.bitmaps()
	if err != nil {
		return false, err
	}
	b, err := other.bitmaps()
	if err != nil {
		return false, err
	}
	return string(a) == string(b), nil
}

// ToMem copies the sketch into a SketchBitmap
func (s *SketchBitmapRedis) ToMem() (*SketchBitmap, error) {
	data, err := s.bitmaps()
	if err != nil {
		return nil, err
	}
	return sketchFromBytes(s.numMaps, s.hasher, data)
}

// Export JSON marshals the sketch
func (s *SketchBitmapRedis) Export() ([]byte, error) {
	data, err := s.bitmaps()
	if err != nil {
		return nil, err
	}
	return marshalSketchJSON(&s.AbstractSketch, data, s.key)
}

// Import JSON unmarshals _data_ into the sketch. With _withNewKey_ the
// bitmaps are written to a fresh key instead of the exported one.
func (s *SketchBitmapRedis) Import(data []byte, withNewKey bool) error {
	var j sketchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "fmsketch: error unmarshalling sketch")
	}
	mem, err := j.toSketch()
	if err != nil {
		return err
	}
	s.AbstractSketch = mem.AbstractSketch
	if withNewKey || j.Key == "" {
		s.key = util.GenerateRandomString(16)
	} else {
		s.key = j.Key
	}
	if s.metadataKey == "" {
		s.metadataKey = util.GenerateRandomString(16)
	}
	if err := s.saveMetadata(); err != nil {
		return err
	}
	return s.setBitmaps(mem.Bytes())
}

// Delete removes the bitmaps and the metadata from Redis
func (s *SketchBitmapRedis) Delete() error {
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	if err := client.Del(context.Background(), s.key, s.metadataKey).Err(); err != nil {
		return errors.Wrapf(err, "fmsketch: error deleting %s", s.key)
	}
	return nil
}

func (s *SketchBitmapRedis) saveMetadata() error {
	metadata := map[string]interface{}{
		"numMaps": s.numMaps,
		"hasher":  uint8(s.hasher),
		"key":     s.key,
	}
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	if err := client.HSet(context.Background(), s.metadataKey, metadata).Err(); err != nil {
		return errors.Wrap(err, "fmsketch: error saving sketch metadata in redis")
	}
	return nil
}

func (s *SketchBitmapRedis) setBitmaps(data []byte) error {
	client, err := sharedRedisClient()
	if err != nil {
		return err
	}
	if err := client.Set(context.Background(), s.key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "fmsketch: error writing bitmaps to %s", s.key)
	}
	return nil
}

// bitmaps fetches the bitmaps padded to their full size; a missing key
// reads as an empty sketch
func (s *SketchBitmapRedis) bitmaps() ([]byte, error) {
	client, err := sharedRedisClient()
	if err != nil {
		return nil, err
	}
	data, err := client.Get(context.Background(), s.key).Bytes()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "fmsketch: error reading bitmaps from %s", s.key)
	}
	if uint(len(data)) > s.numBytes() {
		return nil, errors.Wrapf(ErrSizeMismatch, "%s holds %d bytes, expected %d", s.key, len(data), s.numBytes())
	}
	if uint(len(data)) < s.numBytes() {
		padded := make([]byte, s.numBytes())
		copy(padded, data)
		data = padded
	}
	return data, nil
}
