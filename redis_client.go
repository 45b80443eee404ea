package fmsketch

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisLock   sync.RWMutex
	redisClient *redis.Client
)

// RedisConnOptions configures the client shared by every Redis backed
// structure of the package
type RedisConnOptions struct {
	DB                int
	Network           string
	Address           string
	Username          string
	Password          string
	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PoolSize          int
	TLSConfig         *tls.Config
}

func getRedisClient() *redis.Client {
	redisLock.RLock()
	defer redisLock.RUnlock()
	return redisClient
}

// sharedRedisClient returns the shared client or ErrRedisNotInitialized
func sharedRedisClient() (*redis.Client, error) {
	c := getRedisClient()
	if c == nil {
		return nil, ErrRedisNotInitialized
	}
	return c, nil
}

// GetRedisClient returns the shared client, nil if MakeRedisClient hasn't
// been called
func GetRedisClient() *redis.Client {
	return getRedisClient()
}

// MakeRedisClient creates the shared client from _options_, closing the
// previous one if any
func MakeRedisClient(options RedisConnOptions) {
	client := redis.NewClient(&redis.Options{
		DB:           options.DB,
		Network:      options.Network,
		Addr:         options.Address,
		Username:     options.Username,
		Password:     options.Password,
		DialTimeout:  options.ConnectionTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
		PoolSize:     options.PoolSize,
		TLSConfig:    options.TLSConfig,
	})
	redisLock.Lock()
	old := redisClient
	redisClient = client
	redisLock.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// ParseRedisURI parses a redis:// or rediss:// uri into RedisConnOptions
func ParseRedisURI(uri string) (*RedisConnOptions, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("fmsketch: could not parse redis uri: %v", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("fmsketch: unsupported uri scheme %q", u.Scheme)
	}
	options, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("fmsketch: error while parsing redis uri: %v", err)
	}
	return makeConnOptions(options), nil
}

func makeConnOptions(options *redis.Options) *RedisConnOptions {
	return &RedisConnOptions{
		DB:                options.DB,
		Network:           options.Network,
		Address:           options.Addr,
		Username:          options.Username,
		Password:          options.Password,
		ConnectionTimeout: options.DialTimeout,
		ReadTimeout:       options.ReadTimeout,
		WriteTimeout:      options.WriteTimeout,
		PoolSize:          options.PoolSize,
		TLSConfig:         options.TLSConfig,
	}
}
