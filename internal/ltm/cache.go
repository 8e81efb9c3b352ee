package ltm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/infra/metrics"
)

// Options tunes a Cache.
type Options struct {
	// Fallback takes over for the rest of the session once the primary
	// fails. Defaults to a MemoryBackend.
	Fallback Backend
	// DefaultTTL applies when Put is given a non-positive ttl.
	DefaultTTL time.Duration
	Logger     zerolog.Logger
	// OnFallback is invoked exactly once, on the first primary failure.
	OnFallback func(err error)
	Now        func() time.Time
}

// Cache is the LTM service object. All access to the underlying stores goes
// through it; callers never see a backend error that the fallback absorbed.
type Cache struct {
	mu       sync.RWMutex
	active   Backend
	primary  Backend
	fallback Backend
	degraded bool
	closed   bool

	defaultTTL time.Duration
	log        zerolog.Logger
	onFallback func(error)
	now        func() time.Time
	group      singleflight.Group
}

// New builds a cache over primary. A nil primary means the durable store
// could not be opened; the cache then starts degraded on the fallback and
// reports startErr through the one-time warning.
func New(primary Backend, startErr error, opts Options) *Cache {
	if opts.Fallback == nil {
		opts.Fallback = NewMemoryBackend()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 720 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{
		active:     primary,
		primary:    primary,
		fallback:   opts.Fallback,
		defaultTTL: opts.DefaultTTL,
		log:        opts.Logger,
		onFallback: opts.OnFallback,
		now:        opts.Now,
	}
	if primary == nil {
		if startErr == nil {
			startErr = domain.ErrBackendUnavailable
		}
		c.degrade(nil, startErr)
	}
	return c
}

// Backend returns the name of the store currently serving requests.
func (c *Cache) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active.Name()
}

// Degraded reports whether the cache has fallen back.
func (c *Cache) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Get returns a copy of the value stored at key when present and fresh.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	var (
		e  Entry
		ok bool
	)
	err := c.do(func(b Backend) error {
		var err error
		e, ok, err = b.Get(key, c.now())
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.LTMLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	metrics.LTMLookups.WithLabelValues("hit").Inc()
	return append([]byte(nil), e.Value...), true, nil
}

// Put stores value at key with created_at = now, replacing any prior entry.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	e := Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		CreatedAt: c.now().UTC(),
		TTL:       ttl,
	}
	return c.do(func(b Backend) error { return b.Put(e) })
}

// PrefixQuery returns fresh entries whose key starts with prefix, oldest first.
func (c *Cache) PrefixQuery(prefix string) ([]Entry, error) {
	var out []Entry
	err := c.do(func(b Backend) error {
		var err error
		out, err = b.PrefixQuery(prefix, c.now())
		return err
	})
	return out, err
}

// Delete removes key.
func (c *Cache) Delete(key string) error {
	return c.do(func(b Backend) error { return b.Delete(key) })
}

// Sweep removes every expired entry and returns the number removed.
func (c *Cache) Sweep() (int, error) {
	var n int
	err := c.do(func(b Backend) error {
		var err error
		n, err = b.Sweep(c.now())
		return err
	})
	if err == nil && n > 0 {
		metrics.LTMSwept.Add(float64(n))
	}
	return n, err
}

// Remember returns the cached value for key, or runs compute once for all
// concurrent callers of the same key and stores its result. hit is true only
// when the value came from the store.
func (c *Cache) Remember(key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, bool, error) {
	if v, ok, err := c.Get(key); err == nil && ok {
		return v, true, nil
	}

	type result struct {
		value []byte
		hit   bool
	}
	out, err, _ := c.group.Do(key, func() (any, error) {
		// A caller that just finished may have stored it.
		if v, ok, err := c.Get(key); err == nil && ok {
			return result{value: v, hit: true}, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		if err := c.Put(key, v, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("ltm store failed")
		}
		return result{value: v}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := out.(result)
	return append([]byte(nil), r.value...), r.hit, nil
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep()
			if err != nil {
				c.log.Warn().Err(err).Msg("ltm sweep failed")
				continue
			}
			if n > 0 {
				c.log.Debug().Int("removed", n).Msg("ltm sweep")
			}
		}
	}
}

// Close releases both stores. Later calls are no-ops.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var first error
	if c.primary != nil {
		first = c.primary.Close()
	}
	if err := c.fallback.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// do runs op on the active store. A primary failure switches the cache to
// the fallback for good and retries op there.
func (c *Cache) do(op func(Backend) error) error {
	c.mu.RLock()
	b, degraded := c.active, c.degraded
	c.mu.RUnlock()

	err := op(b)
	if err == nil || degraded {
		return err
	}
	c.degrade(b, err)

	c.mu.RLock()
	b = c.active
	c.mu.RUnlock()
	return op(b)
}

func (c *Cache) degrade(failed Backend, cause error) {
	c.mu.Lock()
	if c.degraded {
		c.mu.Unlock()
		return
	}
	c.degraded = true
	c.active = c.fallback
	c.mu.Unlock()

	from := "primary"
	if failed != nil {
		from = failed.Name()
	}
	metrics.LTMFallbacks.Inc()
	c.log.Warn().Err(cause).
		Str("from", from).
		Str("to", c.fallback.Name()).
		Msg("ltm durable backend unavailable, using fallback for this session")
	if c.onFallback != nil {
		c.onFallback(cause)
	}
}
