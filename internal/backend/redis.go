// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// redis.go: Redis-backed store. Values are kept as plain strings under an
// optional key prefix; SCAN lists keys without blocking the server.

package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis backend.
type RedisOptions struct {
	Client    redis.UniversalClient
	KeyPrefix string
	// ScanCount is the COUNT hint passed to SCAN. Default: 100.
	ScanCount int64
}

// Redis stores values in Redis.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	scanCount int64
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewRedis creates a Redis backend. The client is owned by the backend and
// closed by Close.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("backend redis: nil client")
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = 100
	}
	return &Redis{client: opts.Client, keyPrefix: opts.KeyPrefix, scanCount: opts.ScanCount}, nil
}

func (s *Redis) key(k string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + k
	}
	return k
}

func (s *Redis) Read(ctx context.Context, key string) ([]byte, error) {
	k := s.key(key)
	b, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.misses.Add(1)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("backend redis get %s: %w", k, err)
	}
	s.hits.Add(1)
	return b, nil
}

func (s *Redis) Write(ctx context.Context, key string, data []byte) error {
	k := s.key(key)
	if err := s.client.Set(ctx, k, data, 0).Err(); err != nil {
		return fmt.Errorf("backend redis set %s: %w", k, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	k := s.key(key)
	if err := s.client.Del(ctx, k).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("backend redis delete %s: %w", k, err)
	}
	return nil
}

func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	k := s.key(key)
	n, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("backend redis exists %s: %w", k, err)
	}
	return n > 0, nil
}

// Keys walks the keyspace with SCAN and returns the unprefixed keys sorted.
func (s *Redis) Keys(ctx context.Context) ([]string, error) {
	pattern := "*"
	strip := ""
	if s.keyPrefix != "" {
		strip = s.keyPrefix + ":"
		pattern = strip + "*"
	}
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("backend redis scan: %w", err)
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, strip)] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Publish sends payload to a pub/sub channel.
func (s *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("backend redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a pub/sub subscription on channel.
func (s *Redis) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.client.Subscribe(ctx, channel)
}

// Ping checks that Redis is reachable.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RedisStats holds read hit and miss counts.
type RedisStats struct {
	Hits   int64
	Misses int64
}

// Stats returns current statistics.
func (s *Redis) Stats() RedisStats {
	return RedisStats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

func (s *Redis) Close() error { return s.client.Close() }
