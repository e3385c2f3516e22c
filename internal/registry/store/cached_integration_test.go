//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"notary/internal/registry/models"
	"notary/internal/registry/store"
	id "notary/pkg/domain"
	"notary/pkg/platform/sentinel"
	"notary/pkg/testutil/containers"
)

type countingMetrics struct {
	hits, misses int
}

func (m *countingMetrics) IncCacheHit()  { m.hits++ }
func (m *countingMetrics) IncCacheMiss() { m.misses++ }

// rejectOverwrites fails plain SET commands while enabled. SET NX passes.
type rejectOverwrites struct {
	enabled atomic.Bool
}

func (h *rejectOverwrites) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *rejectOverwrites) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.enabled.Load() && cmd.Name() == "set" && !hasArg(cmd, "nx") {
			err := errors.New("set rejected")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *rejectOverwrites) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func hasArg(cmd redis.Cmder, want string) bool {
	for _, arg := range cmd.Args() {
		if s, ok := arg.(string); ok && strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

type CachedStoreSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	inner   *store.InMemoryStore
	metrics *countingMetrics
	store   *store.CachedStore
}

func TestCachedStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CachedStoreSuite))
}

func (s *CachedStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CachedStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.inner = store.NewInMemory()
	s.metrics = &countingMetrics{}
	s.store = store.NewCached(s.inner, s.redis.Client,
		store.WithCacheTTL(time.Minute),
		store.WithCacheMetrics(s.metrics),
	)
}

func (s *CachedStoreSuite) TestReadThrough() {
	ctx := context.Background()
	record := newRecord(s, 1)
	s.Require().NoError(s.inner.Create(ctx, record))

	first, err := s.store.FindByFingerprint(ctx, record.Fingerprint)
	s.Require().NoError(err)
	s.Equal(1, s.metrics.misses)

	second, err := s.store.FindByFingerprint(ctx, record.Fingerprint)
	s.Require().NoError(err)
	s.Equal(1, s.metrics.hits)
	s.Equal(first.Fingerprint, second.Fingerprint)
	s.True(first.IssuedAt.Equal(second.IssuedAt))
}

func (s *CachedStoreSuite) TestAbsenceIsNotCached() {
	ctx := context.Background()
	fp := id.Fingerprint{0x42}

	_, err := s.store.FindByFingerprint(ctx, fp)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	record := newRecord(s, 0x42)
	record.Fingerprint = fp
	s.Require().NoError(s.store.Create(ctx, record))

	found, err := s.store.FindByFingerprint(ctx, fp)
	s.Require().NoError(err)
	s.Equal(fp, found.Fingerprint)
}

func (s *CachedStoreSuite) TestRevocationOverwritesCachedValue() {
	ctx := context.Background()
	record := newRecord(s, 2)
	s.Require().NoError(s.store.Create(ctx, record))

	// Warm the cache with the active record.
	_, err := s.store.FindByFingerprint(ctx, record.Fingerprint)
	s.Require().NoError(err)

	_, err = s.store.Execute(ctx, record.Fingerprint,
		func(r *models.Record) error { return r.CanRevoke() },
		func(r *models.Record) { r.ApplyRevocation(time.Now()) },
	)
	s.Require().NoError(err)

	found, err := s.store.FindByFingerprint(ctx, record.Fingerprint)
	s.Require().NoError(err)
	s.True(found.Revoked)

	many, err := s.store.FindMany(ctx, []id.Fingerprint{record.Fingerprint})
	s.Require().NoError(err)
	s.True(many[record.Fingerprint].Revoked)
}

func (s *CachedStoreSuite) TestFindManyMixesHitsAndMisses() {
	ctx := context.Background()
	a, b := newRecord(s, 3), newRecord(s, 4)
	s.Require().NoError(s.inner.Create(ctx, a))
	s.Require().NoError(s.inner.Create(ctx, b))

	_, err := s.store.FindByFingerprint(ctx, a.Fingerprint)
	s.Require().NoError(err)

	found, err := s.store.FindMany(ctx, []id.Fingerprint{a.Fingerprint, b.Fingerprint, {0x99}})
	s.Require().NoError(err)
	s.Len(found, 2)

	again, err := s.store.FindMany(ctx, []id.Fingerprint{a.Fingerprint, b.Fingerprint})
	s.Require().NoError(err)
	s.Len(again, 2)
}

func (s *CachedStoreSuite) TestFailedOverwriteEvictsLateStalePopulate() {
	ctx := context.Background()
	record := newRecord(s, 5)
	s.Require().NoError(s.inner.Create(ctx, record))

	stale, err := json.Marshal(record)
	s.Require().NoError(err)

	hook := &rejectOverwrites{}
	client := redis.NewClient(s.redis.Client.Options())
	client.AddHook(hook)
	s.T().Cleanup(func() { _ = client.Close() })
	cached := store.NewCached(s.inner, client,
		store.WithCacheTTL(time.Minute),
		store.WithEvictionDelay(200*time.Millisecond),
	)

	hook.enabled.Store(true)
	_, err = cached.Execute(ctx, record.Fingerprint,
		func(r *models.Record) error { return r.CanRevoke() },
		func(r *models.Record) { r.ApplyRevocation(time.Now()) },
	)
	s.Require().NoError(err)

	// A reader that loaded the row before the revocation populates late.
	key := "registry:record:" + record.Fingerprint.String()
	s.Require().NoError(s.redis.Client.SetNX(ctx, key, stale, time.Minute).Err())

	s.Eventually(func() bool {
		found, err := cached.FindByFingerprint(ctx, record.Fingerprint)
		return err == nil && found.Revoked
	}, 2*time.Second, 20*time.Millisecond)
}
