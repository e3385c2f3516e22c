package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"notary/internal/registry/models"
	id "notary/pkg/domain"
)

const (
	cacheKeyPrefix       = "registry:record:"
	defaultCacheTTL      = 5 * time.Minute
	defaultEvictionDelay = time.Second
	evictionTimeout      = 2 * time.Second
)

// CachedStore is a read-through Redis cache in front of another Store.
//
// Only existing records are cached. Reads populate with SET NX and writes
// overwrite with SET, so a slow reader holding a pre-revocation copy can never
// replace the revoked value written by Execute. When that overwrite fails the
// key is deleted twice, immediately and again after a short delay, so a copy
// loaded before the mutation and populated after the first delete is still
// evicted. Redis failures degrade to the backing store.
type CachedStore struct {
	inner         Store
	redis         redis.Cmdable
	ttl           time.Duration
	evictionDelay time.Duration
	group         singleflight.Group
	logger        *slog.Logger
	metrics       CacheMetrics
}

// CacheMetrics receives hit/miss counts. Nil-safe.
type CacheMetrics interface {
	IncCacheHit()
	IncCacheMiss()
}

type CacheOption func(*CachedStore)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedStore) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithEvictionDelay sets how long after a failed overwrite the second delete
// runs. It should exceed the slowest backing-store read.
func WithEvictionDelay(d time.Duration) CacheOption {
	return func(c *CachedStore) {
		if d > 0 {
			c.evictionDelay = d
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedStore) {
		c.logger = logger
	}
}

func WithCacheMetrics(m CacheMetrics) CacheOption {
	return func(c *CachedStore) {
		c.metrics = m
	}
}

func NewCached(inner Store, client redis.Cmdable, opts ...CacheOption) *CachedStore {
	c := &CachedStore{
		inner:         inner,
		redis:         client,
		ttl:           defaultCacheTTL,
		evictionDelay: defaultEvictionDelay,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(fp id.Fingerprint) string {
	return cacheKeyPrefix + fp.String()
}

func (c *CachedStore) Create(ctx context.Context, record *models.Record) error {
	if err := c.inner.Create(ctx, record); err != nil {
		return err
	}
	c.write(ctx, record)
	return nil
}

func (c *CachedStore) FindByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Record, error) {
	key := cacheKey(fp)
	if record, ok := c.read(ctx, key); ok {
		c.hit()
		return record, nil
	}
	c.miss()

	v, err, _ := c.group.Do(key, func() (any, error) {
		record, err := c.inner.FindByFingerprint(ctx, fp)
		if err != nil {
			return nil, err
		}
		c.populate(ctx, record)
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	// singleflight shares the pointer between waiters.
	return v.(*models.Record).Clone(), nil
}

func (c *CachedStore) FindMany(ctx context.Context, fps []id.Fingerprint) (map[id.Fingerprint]*models.Record, error) {
	fps = dedupe(fps)
	out := make(map[id.Fingerprint]*models.Record, len(fps))
	if len(fps) == 0 {
		return out, nil
	}

	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = cacheKey(fp)
	}

	missing := fps
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "registry cache batch read failed", "error", err)
	} else {
		missing = missing[:0:0]
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, fps[i])
				c.miss()
				continue
			}
			record, err := decodeRecord(raw)
			if err != nil {
				missing = append(missing, fps[i])
				c.miss()
				continue
			}
			out[fps[i]] = record
			c.hit()
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.inner.FindMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.redis.Pipeline()
	for fp, record := range loaded {
		out[fp] = record
		if raw, err := json.Marshal(record); err == nil {
			pipe.SetNX(ctx, cacheKey(fp), raw, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "registry cache batch populate failed", "error", err)
	}
	return out, nil
}

func (c *CachedStore) Execute(ctx context.Context, fp id.Fingerprint, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	updated, err := c.inner.Execute(ctx, fp, validate, mutate)
	if err != nil {
		return nil, err
	}
	c.write(ctx, updated)
	return updated, nil
}

func (c *CachedStore) Count(ctx context.Context) (int, error) {
	return c.inner.Count(ctx)
}

func (c *CachedStore) LatestIssuedAt(ctx context.Context) (time.Time, error) {
	return c.inner.LatestIssuedAt(ctx)
}

func (c *CachedStore) read(ctx context.Context, key string) (*models.Record, bool) {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "registry cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	record, err := decodeRecord(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "registry cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return record, true
}

func (c *CachedStore) populate(ctx context.Context, record *models.Record) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.redis.SetNX(ctx, cacheKey(record.Fingerprint), raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "registry cache populate failed", "fingerprint", record.Fingerprint, "error", err)
	}
}

// write overwrites the cached value after a mutation. If the write fails the
// key is evicted so the next read goes to the backing store.
func (c *CachedStore) write(ctx context.Context, record *models.Record) {
	key := cacheKey(record.Fingerprint)
	raw, err := json.Marshal(record)
	if err == nil {
		err = c.redis.Set(ctx, key, raw, c.ttl).Err()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "registry cache write failed", "fingerprint", record.Fingerprint, "error", err)
		c.evict(context.WithoutCancel(ctx), key)
	}
}

func (c *CachedStore) evict(ctx context.Context, key string) {
	c.del(ctx, key)
	time.AfterFunc(c.evictionDelay, func() {
		c.del(ctx, key)
	})
}

func (c *CachedStore) del(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, evictionTimeout)
	defer cancel()
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.WarnContext(ctx, "registry cache evict failed", "key", key, "error", err)
	}
}

func (c *CachedStore) hit() {
	if c.metrics != nil {
		c.metrics.IncCacheHit()
	}
}

func (c *CachedStore) miss() {
	if c.metrics != nil {
		c.metrics.IncCacheMiss()
	}
}

func decodeRecord(raw string) (*models.Record, error) {
	var record models.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}
