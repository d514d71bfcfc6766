package konserve_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danielsz/konserve"
	"github.com/danielsz/konserve/internal/backend"
	"github.com/danielsz/konserve/internal/clock"
	"github.com/danielsz/konserve/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, cfg konserve.Config) *konserve.Store {
	t.Helper()
	s, err := konserve.NewStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t, konserve.Config{})
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, konserve.ErrNotFound)
}

func TestStore_AssocGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})
	v := map[any]any{"name": "ada", "tags": konserve.NewSet(konserve.Keyword("admin"))}
	require.NoError(t, s.Assoc(ctx, "user/1", v))

	got, err := s.Get(ctx, "user/1")
	require.NoError(t, err)
	assert.Equal(t, v, got)

	ok, err := s.Exists(ctx, "user/1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Records(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})
	registerPoint(t, s.Records())

	require.NoError(t, s.Assoc(ctx, "p", SpecialPoint{Point: Point{1, 2}}))
	got, err := s.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, Point{1, 2}, got)
}

func TestStore_GetInAssocIn(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})

	require.NoError(t, s.AssocIn(ctx, "cfg", []any{"db", "port"}, 5432))
	got, err := s.GetIn(ctx, "cfg", "db", "port")
	require.NoError(t, err)
	assert.Equal(t, int64(5432), got)

	require.NoError(t, s.AssocIn(ctx, "cfg", []any{"hosts"}, []any{"a", "b"}))
	require.NoError(t, s.AssocIn(ctx, "cfg", []any{"hosts", 1}, "c"))
	require.NoError(t, s.AssocIn(ctx, "cfg", []any{"hosts", 2}, "d"))
	got, err = s.GetIn(ctx, "cfg", "hosts")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c", "d"}, got)

	got, err = s.GetIn(ctx, "cfg", "hosts", 0)
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	got, err = s.GetIn(ctx, "cfg", "missing", "deeper")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.GetIn(ctx, "cfg", "db", "port", "x")
	require.ErrorIs(t, err, konserve.ErrInvalidPath)

	err = s.AssocIn(ctx, "cfg", []any{"hosts", 9}, "z")
	require.ErrorIs(t, err, konserve.ErrInvalidPath)

	whole, err := s.Get(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, map[any]any{
		"db":    map[any]any{"port": int64(5432)},
		"hosts": []any{"a", "c", "d"},
	}, whole)
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})

	old, updated, err := s.Update(ctx, "n", func(old any) (any, error) {
		assert.Nil(t, old)
		return int64(1), nil
	})
	require.NoError(t, err)
	assert.Nil(t, old)
	assert.Equal(t, int64(1), updated)

	old, updated, err = s.Update(ctx, "n", func(old any) (any, error) { return old.(int64) + 1, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(1), old)
	assert.Equal(t, int64(2), updated)

	_, _, err = s.Update(ctx, "n", func(any) (any, error) { return nil, fmt.Errorf("refuse") })
	require.Error(t, err)
	got, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got, "a failed update writes nothing")
}

func TestStore_UpdateIsSerializedPerKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Update(ctx, "counter", func(old any) (any, error) {
				n, _ := old.(int64)
				return n + 1, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)
}

func TestStore_DissocKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, s.Assoc(ctx, k, k))
	}
	require.NoError(t, s.Dissoc(ctx, "b"))
	require.NoError(t, s.Dissoc(ctx, "absent"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, keys)

	st := s.Stats()
	assert.Equal(t, int64(3), st.Writes)
	assert.Equal(t, int64(2), st.Deletes)
	assert.Positive(t, st.BytesWritten)
}

func TestStore_UnsupportedValue(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})
	err := s.Assoc(ctx, "bad", make(chan int))
	require.ErrorIs(t, err, konserve.ErrUnsupportedType)
	ok, err := s.Exists(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s, err := konserve.NewStore(ctx, konserve.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, konserve.ErrClosed)
	require.ErrorIs(t, s.Assoc(ctx, "k", 1), konserve.ErrClosed)
	_, _, err = s.Update(ctx, "k", nil)
	require.ErrorIs(t, err, konserve.ErrClosed)
	require.ErrorIs(t, s.Dissoc(ctx, "k"), konserve.ErrClosed)
	_, err = s.Keys(ctx)
	require.ErrorIs(t, err, konserve.ErrClosed)
	_, err = s.Exists(ctx, "k")
	require.ErrorIs(t, err, konserve.ErrClosed)
}

func TestStore_Encryption(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	s := newStore(t, konserve.Config{Backend: mem, EncryptionKey: testKey(), Serializer: konserve.NewText()})

	require.NoError(t, s.Assoc(ctx, "secret", "plain words"))
	raw, err := mem.Read(ctx, "secret")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plain words")

	got, err := s.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "plain words", got)

	other := newStore(t, konserve.Config{Backend: mem, EncryptionKey: make([]byte, 32)})
	_, err = other.Get(ctx, "secret")
	require.ErrorIs(t, err, konserve.ErrCiphertext)
}

func TestStore_BadEncryptionKey(t *testing.T) {
	_, err := konserve.NewStore(context.Background(), konserve.Config{EncryptionKey: []byte("short")})
	require.ErrorIs(t, err, konserve.ErrInvalidConfig)
}

func TestStore_TextOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newStore(t, konserve.Config{Dir: dir, Serializer: konserve.NewText()})
	registerPoint(t, s.Records())
	require.NoError(t, s.Assoc(ctx, "origin", Point{0, 0}))

	f, err := backend.NewFile(dir)
	require.NoError(t, err)
	raw, err := f.Read(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, "#app/Point [0 0]", string(raw))

	// a second store on the same directory without the record cannot read it
	bare := newStore(t, konserve.Config{Dir: dir, Serializer: konserve.NewText()})
	_, err = bare.Get(ctx, "origin")
	require.ErrorIs(t, err, konserve.ErrUnknownTag)
}

func TestStore_Redis(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := newStore(t, konserve.Config{RedisAddr: mr.Addr(), RedisKeyPrefix: "ks"})
	require.NoError(t, s.Assoc(ctx, "k", []any{int64(1), "two"}))
	assert.True(t, mr.Exists("ks:k"))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "two"}, got)
}

func TestStore_InvalidPostgresDSN(t *testing.T) {
	_, err := konserve.NewStore(context.Background(), konserve.Config{PostgresDSN: "::not a dsn::"})
	require.ErrorIs(t, err, konserve.ErrInvalidConfig)
}

func TestStore_MetricsAndClock(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg, "konserve_test")
	require.NoError(t, err)
	clk := clock.NewMock(time.Time{})
	clk.SetStep(time.Millisecond)

	s := newStore(t, konserve.Config{Metrics: rec, Clock: clk})
	require.NoError(t, s.Assoc(ctx, "k", "v"))
	_, err = s.Get(ctx, "k")
	require.NoError(t, err)
	_ = s.Assoc(ctx, "bad", make(chan int))

	n, err := testutil.GatherAndCount(reg,
		"konserve_test_op_duration_seconds",
		"konserve_test_op_errors_total",
		"konserve_test_op_bytes_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "assoc and get latency, assoc error, write bytes")
}

func TestStore_ReadCache(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(time.Time{})
	mem := backend.NewMemory()
	s := newStore(t, konserve.Config{Backend: mem, CacheEntries: 64, CacheTTL: time.Minute, Clock: clk})

	require.NoError(t, s.Assoc(ctx, "k", int64(1)))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
	st := s.Stats()
	assert.Equal(t, int64(1), st.CacheHits)
	assert.Equal(t, int64(1), st.CacheMisses)

	// writes through the store invalidate
	_, _, err = s.Update(ctx, "k", func(old any) (any, error) { return old.(int64) + 1, nil })
	require.NoError(t, err)
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	require.NoError(t, s.Dissoc(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, konserve.ErrNotFound)

	// expired entries are read from the backend again
	require.NoError(t, s.Assoc(ctx, "e", "v1"))
	_, err = s.Get(ctx, "e")
	require.NoError(t, err)
	b, err := konserve.Marshal(konserve.NewBinary(), nil, "v2")
	require.NoError(t, err)
	require.NoError(t, mem.Write(ctx, "e", b))
	got, err = s.Get(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, "v1", got, "served from cache")
	clk.Advance(2 * time.Minute)
	got, err = s.Get(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestStore_UnhashablePathElement(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, konserve.Config{})
	require.NoError(t, s.Assoc(ctx, "k", map[any]any{"a": int64(1)}))

	_, err := s.GetIn(ctx, "k", []any{1})
	require.ErrorIs(t, err, konserve.ErrInvalidPath)

	err = s.AssocIn(ctx, "missing", []any{[]any{1}}, "x")
	require.ErrorIs(t, err, konserve.ErrInvalidPath)
	err = s.AssocIn(ctx, "k", []any{"b", map[any]any{}}, "x")
	require.ErrorIs(t, err, konserve.ErrInvalidPath)
}

// gatedBackend holds the next Write until the test releases it.
type gatedBackend struct {
	konserve.Backend
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

// arm makes the next Write close entered and then wait on release.
func (g *gatedBackend) arm() (entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered, g.release = make(chan struct{}), make(chan struct{})
	return g.entered, g.release
}

func (g *gatedBackend) Write(ctx context.Context, key string, data []byte) error {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered, g.release = nil, nil
	g.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return g.Backend.Write(ctx, key, data)
}

func TestStore_ReadCacheNotStaleAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	g := &gatedBackend{Backend: backend.NewMemory()}
	s := newStore(t, konserve.Config{Backend: g, CacheEntries: 64})

	// assocDuringGet runs a Get while Assoc(key, val) is inside the backend
	// and returns what that Get saw.
	assocDuringGet := func(key, val string) any {
		entered, release := g.arm()
		done := make(chan error, 1)
		go func() { done <- s.Assoc(ctx, key, val) }()
		<-entered
		seen := make(chan any, 1)
		go func() {
			v, _ := s.Get(ctx, key)
			seen <- v
		}()
		time.Sleep(20 * time.Millisecond)
		close(release)
		require.NoError(t, <-done)
		return <-seen
	}

	// cached before the write: the concurrent Get may see either value
	require.NoError(t, s.Assoc(ctx, "k", "v1"))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Contains(t, []any{"v1", "v2"}, assocDuringGet("k", "v2"))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	// not cached: the Get waits for the write
	require.NoError(t, s.Assoc(ctx, "u", "v1"))
	assert.Equal(t, "v2", assocDuringGet("u", "v2"))
	got, err = s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestStore_InvalidationAcrossStores(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := konserve.Config{RedisAddr: mr.Addr(), CacheEntries: 64, Invalidation: true}
	a := newStore(t, cfg)
	b := newStore(t, cfg)

	require.NoError(t, a.Assoc(ctx, "k", "v1"))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	// garbage on the channel is ignored
	mr.Publish("konserve:invalidate", "not json")

	require.NoError(t, a.Assoc(ctx, "k", "v2"))
	assert.Eventually(t, func() bool {
		v, err := b.Get(ctx, "k")
		return err == nil && v == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Dissoc(ctx, "k"))
	assert.Eventually(t, func() bool {
		_, err := b.Get(ctx, "k")
		return errors.Is(err, konserve.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStore_InvalidationCustomChannel(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := newStore(t, konserve.Config{RedisAddr: mr.Addr(), Invalidation: true, InvalidationChannel: "ks:inv"})
	// no read cache: writes are still announced for other stores
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, "ks:inv")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Assoc(ctx, "k", int64(1)))
	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"key":"k"`)
		assert.Contains(t, msg.Payload, `"op":"write"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation published")
	}
}

func TestStore_InvalidationNeedsRedis(t *testing.T) {
	_, err := konserve.NewStore(context.Background(), konserve.Config{Invalidation: true, CacheEntries: 8})
	require.ErrorIs(t, err, konserve.ErrInvalidConfig)
}
