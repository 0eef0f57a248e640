package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"example.com/kennelboard/internal/domain"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisBoardCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBoardCacheWithClient(client, ttl), mr
}

func sampleSnapshot(facilityID string) *domain.BoardSnapshot {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	return &domain.BoardSnapshot{
		FacilityID: facilityID,
		Columns: []domain.BoardColumn{
			{
				Type: domain.ActivityTypeDefinition{Code: "play", Label: "Play Yard", ShowOnBoard: true},
				Entities: []domain.EntitySummary{
					{EntityID: "dog-1", Name: "Rex", TypeCode: "play", StartedAt: now.Add(-10 * time.Minute), Timer: domain.TimerNormal},
				},
			},
		},
		GeneratedAt: now,
	}
}

func TestBoardCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, hit, err := cache.Get(ctx, "facility-1")
	require.NoError(t, err)
	require.False(t, hit)

	snap := sampleSnapshot("facility-1")
	require.NoError(t, cache.Set(ctx, snap))

	got, hit, err := cache.Get(ctx, "facility-1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, snap.FacilityID, got.FacilityID)
	require.Len(t, got.Columns, 1)
	require.Equal(t, "dog-1", got.Columns[0].Entities[0].EntityID)
	require.Equal(t, domain.TimerNormal, got.Columns[0].Entities[0].Timer)
}

func TestBoardCacheKeysAreFacilityScoped(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleSnapshot("facility-1")))

	_, hit, err := cache.Get(ctx, "facility-2")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestBoardCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleSnapshot("facility-1")))
	require.NoError(t, cache.Invalidate(ctx, "facility-1"))

	_, hit, err := cache.Get(ctx, "facility-1")
	require.NoError(t, err)
	require.False(t, hit)

	// Invalidating an absent key is not an error.
	require.NoError(t, cache.Invalidate(ctx, "facility-1"))
}

func TestBoardCacheExpires(t *testing.T) {
	cache, mr := newTestCache(t, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleSnapshot("facility-1")))
	mr.FastForward(6 * time.Second)

	_, hit, err := cache.Get(ctx, "facility-1")
	require.NoError(t, err)
	require.False(t, hit)
}
