package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"example.com/kennelboard/internal/cache"
	"example.com/kennelboard/internal/domain"
)

func TestInvalidationHandlerEvictsFacilitySnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	boards := cache.NewRedisBoardCacheWithClient(client, time.Minute)

	ctx := context.Background()
	require.NoError(t, boards.Set(ctx, &domain.BoardSnapshot{FacilityID: "facility-1"}))
	require.NoError(t, boards.Set(ctx, &domain.BoardSnapshot{FacilityID: "facility-2"}))

	handler := NewInvalidationHandler(boards)
	err := handler.Handle(ctx, Message{
		Topic:      "board_activity_events",
		EventType:  "activity.transitioned",
		FacilityID: "facility-1",
		Payload:    json.RawMessage(`{"instance_id":"abc"}`),
	})
	require.NoError(t, err)

	_, hit, err := boards.Get(ctx, "facility-1")
	require.NoError(t, err)
	require.False(t, hit)

	_, hit, err = boards.Get(ctx, "facility-2")
	require.NoError(t, err)
	require.True(t, hit, "other facilities keep their snapshots")
}

func TestInvalidationHandlerIgnoresMissingFacility(t *testing.T) {
	handler := NewInvalidationHandler(cache.Noop{})
	err := handler.Handle(context.Background(), Message{EventType: "activity.transitioned"})
	require.NoError(t, err)
}

func TestMultiHandlerStopsOnFirstError(t *testing.T) {
	failing := &stubHandler{err: context.DeadlineExceeded}
	second := &stubHandler{}

	multi := MultiHandler{failing, second}
	err := multi.Handle(context.Background(), Message{EventType: "activity.ended"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, failing.calls)
	require.Equal(t, 0, second.calls)
}
