package ltm

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenBackend fails every operation, as an unreachable durable store would.
type brokenBackend struct{ calls atomic.Int32 }

var errDiskGone = errors.New("disk gone")

func (b *brokenBackend) Name() string { return "broken" }
func (b *brokenBackend) Get(string, time.Time) (Entry, bool, error) {
	b.calls.Add(1)
	return Entry{}, false, errDiskGone
}
func (b *brokenBackend) Put(Entry) error { b.calls.Add(1); return errDiskGone }
func (b *brokenBackend) PrefixQuery(string, time.Time) ([]Entry, error) {
	b.calls.Add(1)
	return nil, errDiskGone
}
func (b *brokenBackend) Delete(string) error          { return errDiskGone }
func (b *brokenBackend) Sweep(time.Time) (int, error) { return 0, errDiskGone }
func (b *brokenBackend) Close() error                 { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	c := New(NewMemoryBackend(), nil, Options{Logger: zerolog.Nop(), Now: clock.Now})
	t.Cleanup(func() { c.Close() })
	return c
}

// ─── Get / Put ──────────────────────────────────────────────────────────────

func TestCache_GetPutTTL(t *testing.T) {
	clock := &fakeClock{now: base}
	c := newTestCache(t, clock)

	require.NoError(t, c.Put("k", []byte("v"), time.Minute))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	clock.Advance(2 * time.Minute)
	_, ok, err = c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := newTestCache(t, &fakeClock{now: base})

	src := []byte("abc")
	require.NoError(t, c.Put("k", src, time.Hour))
	src[0] = 'X'

	v, _, _ := c.Get("k")
	v[1] = 'Y'
	again, _, _ := c.Get("k")
	assert.Equal(t, "abc", string(again))
}

func TestCache_DefaultTTL(t *testing.T) {
	clock := &fakeClock{now: base}
	c := New(NewMemoryBackend(), nil, Options{Logger: zerolog.Nop(), Now: clock.Now, DefaultTTL: time.Hour})

	require.NoError(t, c.Put("k", []byte("v"), 0))
	clock.Advance(59 * time.Minute)
	_, ok, _ := c.Get("k")
	assert.True(t, ok)
	clock.Advance(2 * time.Minute)
	_, ok, _ = c.Get("k")
	assert.False(t, ok)
}

// ─── Fallback ───────────────────────────────────────────────────────────────

func TestCache_FallbackAtStartup(t *testing.T) {
	// A regular file where a directory is needed makes the sqlite store unopenable.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	warnings := 0
	c := Open(Config{
		Backend: BackendSQLite,
		Path:    filepath.Join(blocker, "ltm.db"),
	}, zerolog.Nop(), func(error) { warnings++ })
	defer c.Close()

	assert.True(t, c.Degraded())
	assert.Equal(t, BackendMemory, c.Backend())

	require.NoError(t, c.Put("k", []byte("v"), time.Hour))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, 1, warnings)
}

func TestCache_FallbackOnOperation_WarnsOnce(t *testing.T) {
	broken := &brokenBackend{}
	warnings := 0
	c := New(broken, nil, Options{
		Logger:     zerolog.Nop(),
		OnFallback: func(err error) { warnings++; assert.ErrorIs(t, err, errDiskGone) },
	})

	assert.False(t, c.Degraded())
	require.NoError(t, c.Put("a", []byte("1"), time.Hour))
	require.NoError(t, c.Put("b", []byte("2"), time.Hour))
	v, ok, err := c.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	entries, err := c.PrefixQuery("")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	assert.True(t, c.Degraded())
	assert.Equal(t, 1, warnings)
	assert.Equal(t, int32(1), broken.calls.Load(), "primary must not be retried after fallback")
}

func TestOpen_FileFallback(t *testing.T) {
	dir := t.TempDir()
	c := Open(Config{Backend: "nosuch", Path: filepath.Join(dir, "ltm.db"), Fallback: BackendFile}, zerolog.Nop(), nil)
	defer c.Close()

	assert.Equal(t, BackendFile, c.Backend())
	require.NoError(t, c.Put("k", []byte("v"), time.Hour))
	_, err := os.Stat(filepath.Join(dir, "ltm-fallback.json"))
	assert.NoError(t, err)
}

func TestOpen_LevelDB(t *testing.T) {
	c := Open(Config{Backend: BackendLevelDB, Path: filepath.Join(t.TempDir(), "ltm")}, zerolog.Nop(), nil)
	defer c.Close()
	assert.False(t, c.Degraded())
	assert.Equal(t, BackendLevelDB, c.Backend())
}

// ─── Remember ───────────────────────────────────────────────────────────────

func TestCache_Remember_HitAfterMiss(t *testing.T) {
	c := newTestCache(t, &fakeClock{now: base})
	calls := 0
	compute := func() ([]byte, error) { calls++; return []byte(`{"n":1}`), nil }

	v1, hit, err := c.Remember("k", time.Hour, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	v2, hit, err := c.Remember("k", time.Hour, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestCache_Remember_ComputeError(t *testing.T) {
	c := newTestCache(t, &fakeClock{now: base})
	_, _, err := c.Remember("k", time.Hour, func() ([]byte, error) { return nil, errDiskGone })
	assert.ErrorIs(t, err, errDiskGone)

	_, ok, _ := c.Get("k")
	assert.False(t, ok, "failed computations are not cached")
}

func TestCache_Remember_Concurrent(t *testing.T) {
	c := newTestCache(t, &fakeClock{now: base})

	const n = 32
	var computations atomic.Int32
	release := make(chan struct{})
	compute := func() ([]byte, error) {
		computations.Add(1)
		<-release
		return []byte(`{"total_kwh":1234.5}`), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Remember("same", time.Hour, compute)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, int(computations.Load()), n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, `{"total_kwh":1234.5}`, string(results[i]))
	}
}
