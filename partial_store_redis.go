package fmsketch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisPartialStore keeps partial states as Redis strings under
// _prefix_+key. A zero _ttl_ keeps them until they are deleted.
type RedisPartialStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisPartialStore creates a store on top of _client_. With a nil
// client the shared client set up by MakeRedisClient is used.
func NewRedisPartialStore(client redis.Cmdable, prefix string, ttl time.Duration) (*RedisPartialStore, error) {
	if client == nil {
		c, err := sharedRedisClient()
		if err != nil {
			return nil, err
		}
		client = c
	}
	return &RedisPartialStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisPartialStore) redisKey(key string) string {
	return r.prefix + key
}

func (r *RedisPartialStore) Save(ctx context.Context, key string, state *FMSketch) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.redisKey(key), data, r.ttl).Err(); err != nil {
		return errors.Wrapf(err, "fmsketch: error saving partial state %s", key)
	}
	return nil
}

func (r *RedisPartialStore) Load(ctx context.Context, key string) (*FMSketch, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(ErrStateNotFound, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fmsketch: error loading partial state %s", key)
	}
	return decodePartial(key, data)
}

func (r *RedisPartialStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "fmsketch: error deleting partial state %s", key)
	}
	return nil
}

// MergeKeys fetches all states in one MGET before merging them
func (r *RedisPartialStore) MergeKeys(ctx context.Context, keys ...string) (*FMSketch, error) {
	if len(keys) == 0 {
		return MergeAll()
	}
	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = r.redisKey(key)
	}
	values, err := r.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "fmsketch: error loading partial states")
	}
	states := make([]*FMSketch, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Wrapf(ErrStateNotFound, "key %s", keys[i])
		}
		if states[i], err = decodePartial(keys[i], []byte(s)); err != nil {
			return nil, err
		}
	}
	return MergeAll(states...)
}
