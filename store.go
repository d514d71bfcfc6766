// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// store.go: Store, the durable key/value entry point. Values are encoded
// with a Serializer, optionally sealed with AES-256-GCM and written to a
// backend. Read-modify-write operations on one key are serialized by a
// striped lock.

package konserve

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielsz/konserve/internal/backend"
	"github.com/danielsz/konserve/internal/cache"
	"github.com/danielsz/konserve/internal/clock"
	"github.com/danielsz/konserve/internal/metrics"
	"github.com/danielsz/konserve/internal/value"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Re-export types so callers only import this package.
type (
	MetricsRecorder = metrics.MetricsRecorder
	Backend         = backend.Backend
	Clock           = clock.Clock
)

const lockStripes = 64

// ────────────────────────────────────────────────────────────────────────────
// Config
// ────────────────────────────────────────────────────────────────────────────

// Config contains all Store configuration. Exactly one storage target is used,
// picked in this order: Backend, Dir, RedisAddr, PostgresDSN. With none set
// the store keeps values in memory.
type Config struct {
	Backend Backend

	// File backend
	Dir string

	// Redis backend
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Postgres backend
	PostgresDSN   string
	PostgresTable string
	PGMaxConns    int32

	// Serialization. Records defaults to an empty registry and Serializer
	// to the binary codec using the registry's hierarchy.
	Serializer Serializer
	Records    *Records

	// Optional overrideable components
	Clock   Clock
	Metrics MetricsRecorder
	Logger  Logger

	// Encryption key (must be 32 bytes for AES-256-GCM; nil = disabled).
	EncryptionKey []byte

	// Read cache of decoded values. Zero CacheEntries disables it. Without
	// Invalidation the cache assumes this Store is the only writer of its
	// backend.
	CacheEntries int
	CacheTTL     time.Duration

	// Invalidation announces every write on a Redis pub/sub channel and drops
	// keys written by other stores from the read cache. It requires the
	// Redis backend. InvalidationChannel defaults to "konserve:invalidate".
	Invalidation        bool
	InvalidationChannel string
}

func (c *Config) defaults() {
	if c.Records == nil {
		c.Records = NewRecords()
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Serializer == nil {
		c.Serializer = NewBinary(WithHierarchy(c.Records.Hierarchy()), WithLogger(c.Logger))
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.PostgresTable == "" {
		c.PostgresTable = backend.DefaultTable
	}
	if c.PGMaxConns == 0 {
		c.PGMaxConns = 10
	}
}

// openBackend builds the configured backend.
func (c *Config) openBackend(ctx context.Context) (Backend, error) {
	switch {
	case c.Backend != nil:
		return c.Backend, nil
	case c.Dir != "":
		return backend.NewFile(c.Dir)
	case c.RedisAddr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		return backend.NewRedis(backend.RedisOptions{Client: client, KeyPrefix: c.RedisKeyPrefix})
	case c.PostgresDSN != "":
		pgCfg, err := pgxpool.ParseConfig(c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres config: %v", ErrInvalidConfig, err)
		}
		pgCfg.MaxConns = c.PGMaxConns
		pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("konserve: postgres pool: %w", err)
		}
		pg, err := backend.NewPostgres(pool, c.PostgresTable)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	default:
		return backend.NewMemory(), nil
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Stats
// ────────────────────────────────────────────────────────────────────────────

type storeStats struct {
	Gets    atomic.Int64
	Writes  atomic.Int64
	Deletes atomic.Int64
	Errors  atomic.Int64
	Bytes   atomic.Int64
}

// Stats is the snapshot returned by Store.Stats().
type Stats struct {
	Gets         int64
	Writes       int64
	Deletes      int64
	Errors       int64
	BytesWritten int64
	CacheHits    int64
	CacheMisses  int64
}

// ────────────────────────────────────────────────────────────────────────────
// Store
// ────────────────────────────────────────────────────────────────────────────

// Store persists values per key.
type Store struct {
	backend   Backend
	ser       Serializer
	records   *Records
	clock     Clock
	metrics   MetricsRecorder
	logger    Logger
	encryptor Encryptor
	cache     *cache.LRU
	inval     *invalidator
	locks     [lockStripes]sync.Mutex
	stats     storeStats
	closed    atomic.Bool
}

// NewStore creates a Store from cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	s := &Store{
		ser:     cfg.Serializer,
		records: cfg.Records,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	if len(cfg.EncryptionKey) > 0 {
		enc, err := NewAES256GCM(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("konserve: encryption init: %w", err)
		}
		s.encryptor = enc
	}
	if cfg.CacheEntries > 0 {
		s.cache = cache.New(cache.Options{MaxEntries: cfg.CacheEntries, TTL: cfg.CacheTTL, Clock: cfg.Clock})
	}

	b, err := cfg.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	s.backend = b

	if cfg.Invalidation {
		rb, ok := b.(*backend.Redis)
		if !ok {
			_ = b.Close()
			return nil, fmt.Errorf("%w: invalidation needs the redis backend, have %s", ErrInvalidConfig, typeName(b))
		}
		s.inval = newInvalidator(s, rb, cfg.InvalidationChannel)
		if err := s.inval.start(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	s.logger.Info("konserve: store opened", "codec", s.ser.Name(), "backend", typeName(b), "encrypted", s.encryptor != nil)
	return s, nil
}

// Records returns the record registry the store encodes with. Records
// registered on it become readable by the store immediately.
func (s *Store) Records() *Records { return s.records }

func (s *Store) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// observe records latency and error metrics for op.
func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.RecordLatency(op, clock.Since(s.clock, start))
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.stats.Errors.Add(1)
		s.metrics.RecordError(op)
		s.logger.Warn("konserve: "+op+" failed", "error", err)
	}
}

func (s *Store) encode(v any) ([]byte, error) {
	b, err := Marshal(s.ser, s.records.WriteHandlers(), v)
	if err != nil {
		return nil, err
	}
	if s.encryptor != nil {
		return s.encryptor.Encrypt(b)
	}
	return b, nil
}

func (s *Store) decode(b []byte) (any, error) {
	if s.encryptor != nil {
		plain, err := s.encryptor.Decrypt(b)
		if err != nil {
			return nil, err
		}
		b = plain
	}
	return Unmarshal(s.ser, b, s.records.ReadHandlers())
}

// read returns the value under key, from the read cache when possible. The
// caller holds the key's lock, so a value fetched here cannot be cached after
// a concurrent write has replaced it.
func (s *Store) read(ctx context.Context, key string) (any, error) {
	if s.cache == nil {
		return s.load(ctx, key)
	}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	v, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, v)
	return v, nil
}

// load reads and decodes key from the backend.
func (s *Store) load(ctx context.Context, key string) (any, error) {
	b, err := s.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordBytes("read", len(b))
	v, err := s.decode(b)
	if err != nil {
		return nil, fmt.Errorf("konserve: decode %s: %w", key, err)
	}
	return v, nil
}

// write encodes and stores v under key without taking its lock.
func (s *Store) write(ctx context.Context, key string, v any) error {
	b, err := s.encode(v)
	if err != nil {
		return fmt.Errorf("konserve: encode %s: %w", key, err)
	}
	err = s.backend.Write(ctx, key, b)
	// a failed write may still have landed, so evict either way; the next
	// read caches the decoded form, not the caller's value
	s.evict(key)
	if err != nil {
		return err
	}
	if s.inval != nil {
		s.inval.publish(ctx, key, "write")
	}
	s.stats.Writes.Add(1)
	s.stats.Bytes.Add(int64(len(b)))
	s.metrics.RecordBytes("write", len(b))
	return nil
}

func (s *Store) evict(key string) {
	if s.cache != nil {
		s.cache.Delete(key)
	}
}

// Get returns the value stored under key, or ErrNotFound. With the read
// cache enabled, repeated calls may return the same map or slice; callers
// must not modify it. A cache miss takes the key's lock, so the fetched value
// is never older than the last completed write.
func (s *Store) Get(ctx context.Context, key string) (v any, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.stats.Gets.Add(1)
	start := s.clock.Now()
	defer func() { s.observe("get", start, err) }()
	if s.cache == nil {
		return s.load(ctx, key)
	}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	v, err = s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, v)
	return v, nil
}

// GetIn returns the nested value reached by following path into the value
// stored under key. Map entries are looked up by key and sequences by
// integer index. A path that runs off the value yields nil; a path that
// tries to step into a scalar yields ErrInvalidPath.
func (s *Store) GetIn(ctx context.Context, key string, path ...any) (any, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return getIn(v, path)
}

// Assoc stores v under key, replacing any previous value.
func (s *Store) Assoc(ctx context.Context, key string, v any) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	start := s.clock.Now()
	defer func() { s.observe("assoc", start, err) }()

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return s.write(ctx, key, v)
}

// AssocIn sets the nested value at path inside the value stored under key.
// Missing intermediate maps are created; a missing key starts from an empty
// map. An empty path replaces the whole value.
func (s *Store) AssocIn(ctx context.Context, key string, path []any, v any) error {
	_, _, err := s.Update(ctx, key, func(old any) (any, error) {
		return assocIn(old, path, v)
	})
	return err
}

// Update applies fn to the current value under key (nil when absent) and
// stores the result. It returns the old and new values. No other Update,
// Assoc or Dissoc on the same key runs concurrently; if fn fails nothing is
// written.
func (s *Store) Update(ctx context.Context, key string, fn func(old any) (any, error)) (old, updated any, err error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	start := s.clock.Now()
	defer func() { s.observe("update", start, err) }()

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	old, err = s.read(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}
	updated, err = fn(old)
	if err != nil {
		return nil, nil, err
	}
	if err := s.write(ctx, key, updated); err != nil {
		return nil, nil, err
	}
	return old, updated, nil
}

// Dissoc removes key. Removing an absent key is not an error.
func (s *Store) Dissoc(ctx context.Context, key string) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	start := s.clock.Now()
	defer func() { s.observe("dissoc", start, err) }()

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	err = s.backend.Delete(ctx, key)
	s.evict(key)
	if err != nil {
		return err
	}
	s.stats.Deletes.Add(1)
	if s.inval != nil {
		s.inval.publish(ctx, key, "delete")
	}
	return nil
}

// Exists reports whether key holds a value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	return s.backend.Exists(ctx, key)
}

// Keys lists all stored keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.backend.Keys(ctx)
}

// Stats returns a snapshot of operation counters.
func (s *Store) Stats() Stats {
	st := Stats{
		Gets:         s.stats.Gets.Load(),
		Writes:       s.stats.Writes.Load(),
		Deletes:      s.stats.Deletes.Load(),
		Errors:       s.stats.Errors.Load(),
		BytesWritten: s.stats.Bytes.Load(),
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		st.CacheHits, st.CacheMisses = cs.Hits, cs.Misses
	}
	return st
}

// Close releases the backend. Further calls return ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("konserve: store closed")
	if s.inval != nil {
		s.inval.stop()
	}
	if s.cache != nil {
		s.cache.Flush()
	}
	return s.backend.Close()
}

// ────────────────────────────────────────────────────────────────────────────
// Nested paths
// ────────────────────────────────────────────────────────────────────────────

// pathKey normalizes integer path elements so they match decoded map keys.
func pathKey(k any) any {
	if n, ok := value.Integer(k); ok {
		return n
	}
	return k
}

func getIn(v any, path []any) (any, error) {
	for i, k := range path {
		switch c := v.(type) {
		case nil:
			return nil, nil
		case map[any]any:
			pk := pathKey(k)
			if !value.Hashable(pk) {
				return nil, fmt.Errorf("%w: element %d is an unhashable %T", ErrInvalidPath, i, k)
			}
			v = c[pk]
		case []any:
			n, ok := value.Integer(k)
			idx, isInt := n.(int64)
			if !ok || !isInt {
				return nil, fmt.Errorf("%w: element %d (%v) is not an index", ErrInvalidPath, i, k)
			}
			if idx < 0 || idx >= int64(len(c)) {
				return nil, nil
			}
			v = c[idx]
		default:
			return nil, fmt.Errorf("%w: element %d steps into %T", ErrInvalidPath, i, v)
		}
	}
	return v, nil
}

// assocIn returns a copy of v with path set to x. Containers along the path
// are copied so the previous value stays intact.
func assocIn(v any, path []any, x any) (any, error) {
	if len(path) == 0 {
		return x, nil
	}
	k := path[0]
	switch c := v.(type) {
	case nil:
		pk := pathKey(k)
		if !value.Hashable(pk) {
			return nil, fmt.Errorf("%w: unhashable key %T", ErrInvalidPath, k)
		}
		child, err := assocIn(nil, path[1:], x)
		if err != nil {
			return nil, err
		}
		return map[any]any{pk: child}, nil
	case map[any]any:
		pk := pathKey(k)
		if !value.Hashable(pk) {
			return nil, fmt.Errorf("%w: unhashable key %T", ErrInvalidPath, k)
		}
		child, err := assocIn(c[pk], path[1:], x)
		if err != nil {
			return nil, err
		}
		out := make(map[any]any, len(c)+1)
		for ek, ev := range c {
			out[ek] = ev
		}
		out[pk] = child
		return out, nil
	case []any:
		n, ok := value.Integer(k)
		idx, isInt := n.(int64)
		if !ok || !isInt || idx < 0 || idx > int64(len(c)) {
			return nil, fmt.Errorf("%w: index %v out of range for length %d", ErrInvalidPath, k, len(c))
		}
		var cur any
		if idx < int64(len(c)) {
			cur = c[idx]
		}
		child, err := assocIn(cur, path[1:], x)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(c), len(c)+1)
		copy(out, c)
		if idx == int64(len(c)) {
			out = append(out, child)
		} else {
			out[idx] = child
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot step into %T", ErrInvalidPath, v)
	}
}
