package ltm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every backend must give byte-identical key/value semantics.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	sq, err := OpenSQLiteBackend(filepath.Join(dir, "ltm.db"))
	require.NoError(t, err)
	lv, err := OpenLevelDBBackend(filepath.Join(dir, "ltm.ldb"))
	require.NoError(t, err)
	fb, err := OpenFileBackend(filepath.Join(dir, "ltm.json"))
	require.NoError(t, err)

	all := map[string]Backend{
		BackendSQLite:  sq,
		BackendLevelDB: lv,
		BackendFile:    fb,
		BackendMemory:  NewMemoryBackend(),
	}
	t.Cleanup(func() {
		for _, b := range all {
			b.Close()
		}
	})
	return all
}

var base = time.Date(2025, 11, 22, 12, 0, 0, 0, time.UTC)

func TestBackend_GetPutExpiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			value := []byte(`{"total_kwh":1250.5}`)
			require.NoError(t, b.Put(Entry{Key: "k", Value: value, CreatedAt: base, TTL: time.Hour}))

			got, ok, err := b.Get("k", base.Add(30*time.Minute))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, value, got.Value)
			assert.True(t, got.CreatedAt.Equal(base))
			assert.Equal(t, time.Hour, got.TTL)

			// Fresh exactly at created_at + ttl, expired after.
			_, ok, _ = b.Get("k", base.Add(time.Hour))
			assert.True(t, ok)
			_, ok, _ = b.Get("k", base.Add(time.Hour+time.Nanosecond))
			assert.False(t, ok)

			_, ok, err = b.Get("absent", base)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBackend_Overwrite(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put(Entry{Key: "k", Value: []byte("one"), CreatedAt: base, TTL: time.Hour}))
			require.NoError(t, b.Put(Entry{Key: "k", Value: []byte("two"), CreatedAt: base.Add(time.Minute), TTL: time.Hour}))

			got, ok, err := b.Get("k", base.Add(2*time.Minute))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "two", string(got.Value))
		})
	}
}

func TestBackend_PrefixQueryOrder(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			entries := []Entry{
				{Key: "cost_estimation:Building-A:2", Value: []byte("2"), CreatedAt: base.Add(2 * time.Second), TTL: time.Hour},
				{Key: "cost_estimation:Building-A:1", Value: []byte("1"), CreatedAt: base.Add(time.Second), TTL: time.Hour},
				{Key: "cost_estimation:Building-B:3", Value: []byte("3"), CreatedAt: base, TTL: time.Hour},
				{Key: "cost_estimation:Building-A:old", Value: []byte("0"), CreatedAt: base, TTL: time.Minute},
				{Key: "solar_energy_estimation:Building-A:1", Value: []byte("9"), CreatedAt: base, TTL: time.Hour},
			}
			for _, e := range entries {
				require.NoError(t, b.Put(e))
			}

			got, err := b.PrefixQuery("cost_estimation:Building-A:", base.Add(10*time.Minute))
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "1", string(got[0].Value))
			assert.Equal(t, "2", string(got[1].Value))
		})
	}
}

func TestBackend_SweepAndDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put(Entry{Key: "stale", Value: []byte("x"), CreatedAt: base, TTL: time.Minute}))
			require.NoError(t, b.Put(Entry{Key: "fresh", Value: []byte("y"), CreatedAt: base, TTL: time.Hour}))

			n, err := b.Sweep(base.Add(10 * time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			all, err := b.PrefixQuery("", base)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "fresh", all[0].Key)

			require.NoError(t, b.Delete("fresh"))
			require.NoError(t, b.Delete("fresh"))
			_, ok, _ := b.Get("fresh", base)
			assert.False(t, ok)
		})
	}
}

func TestFileBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.json")
	fb, err := OpenFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, fb.Put(Entry{Key: "k", Value: []byte("v"), CreatedAt: base, TTL: time.Hour}))
	require.NoError(t, fb.Close())

	reopened, err := OpenFileBackend(path)
	require.NoError(t, err)
	got, ok, err := reopened.Get("k", base)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(got.Value))
}

func TestLevelDBBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.ldb")
	lv, err := OpenLevelDBBackend(path)
	require.NoError(t, err)
	require.NoError(t, lv.Put(Entry{Key: "k", Value: []byte("v"), CreatedAt: base, TTL: time.Hour}))
	require.NoError(t, lv.Close())

	reopened, err := OpenLevelDBBackend(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Get("k", base)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(got.Value))
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := OpenBackend("redis", t.TempDir())
	assert.Error(t, err)
}
