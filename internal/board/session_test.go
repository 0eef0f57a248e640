package board

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/kennelboard/internal/domain"
)

// fakeClient serves a canned board and records transitions. Individual
// transition calls can be failed by type code, and a gate channel can
// hold every transition open until the test releases it.
type fakeClient struct {
	mu          sync.Mutex
	snapshot    *domain.BoardSnapshot
	transitions []string
	failCodes   map[string]error
	gate        chan struct{}
	boardCalls  int
}

func (c *fakeClient) Transition(_ context.Context, entityID, typeCode, _ string) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, entityID+":"+typeCode)
	if err, ok := c.failCodes[typeCode]; ok {
		return err
	}
	return nil
}

func (c *fakeClient) Board(ctx context.Context) (*domain.BoardSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boardCalls++
	return c.snapshot, nil
}

func (c *fakeClient) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.transitions))
	copy(out, c.transitions)
	return out
}

func testSnapshot(now time.Time) *domain.BoardSnapshot {
	return &domain.BoardSnapshot{
		FacilityID: "facility-1",
		Columns: []domain.BoardColumn{
			{
				Type: domain.ActivityTypeDefinition{Code: domain.RestTypeCode, Label: "Kennel", ShowOnBoard: true},
				Entities: []domain.EntitySummary{
					{EntityID: "dog-max", Name: "Max", TypeCode: domain.RestTypeCode, StartedAt: now.Add(-time.Hour)},
					{EntityID: "dog-bella", Name: "Bella", TypeCode: domain.RestTypeCode, StartedAt: now.Add(-30 * time.Minute)},
				},
			},
			{
				Type:     domain.ActivityTypeDefinition{Code: "play", Label: "Play Yard", ShowOnBoard: true},
				Entities: []domain.EntitySummary{},
			},
		},
		GeneratedAt: now,
	}
}

func newTestSession(t *testing.T, client *fakeClient, now time.Time) *Session {
	t.Helper()
	s := NewSession(client,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithSessionClock(func() time.Time { return now }),
	)
	require.NoError(t, s.Refresh(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestMoveCardAppliesOptimistically(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	require.NoError(t, s.MoveCard(context.Background(), "dog-max", "play", 0))

	// The local projection reflects the drop before the server call
	// resolves.
	card, ok := s.State().Find("dog-max")
	require.True(t, ok)
	require.Equal(t, "play", card.TypeCode)
	require.Equal(t, now, card.StartedAt, "type change restamps the activity clock")

	s.Flush()
	require.Equal(t, []string{"dog-max:play"}, client.recorded())
}

func TestMoveCardSamePositionIsNoop(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	require.NoError(t, s.MoveCard(context.Background(), "dog-max", domain.RestTypeCode, 0))
	s.Flush()

	require.Empty(t, client.recorded())
}

func TestMoveCardReorderStaysLocal(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	require.NoError(t, s.MoveCard(context.Background(), "dog-bella", domain.RestTypeCode, 0))
	s.Flush()

	state := s.State()
	kennelIdx, ok := state.columnIndex(domain.RestTypeCode)
	require.True(t, ok)
	require.Equal(t, "dog-bella", state.Columns[kennelIdx].Cards[0].EntityID)

	card, _ := state.Find("dog-bella")
	require.Equal(t, now.Add(-30*time.Minute), card.StartedAt, "reorder must not restamp the clock")
	require.Empty(t, client.recorded(), "reorder is cosmetic, no server call")
}

func TestFailedTransitionRollsBackToServerTruth(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{
		snapshot:  testSnapshot(now),
		failCodes: map[string]error{"play": errors.New("conflict")},
	}
	s := newTestSession(t, client, now)

	require.NoError(t, s.MoveCard(context.Background(), "dog-max", "play", 0))

	card, _ := s.State().Find("dog-max")
	require.Equal(t, "play", card.TypeCode)

	s.Flush()

	// The optimistic move is gone and Max sits where the server says.
	card, ok := s.State().Find("dog-max")
	require.True(t, ok)
	require.Equal(t, domain.RestTypeCode, card.TypeCode)
	require.GreaterOrEqual(t, client.boardCalls, 2, "rollback refetches the board")
}

func TestQuickLogAppendsToTargetColumn(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	require.NoError(t, s.QuickLog(context.Background(), "dog-max", "play", "zoomies"))
	require.NoError(t, s.QuickLog(context.Background(), "dog-bella", "play", ""))
	s.Flush()

	state := s.State()
	playIdx, ok := state.columnIndex("play")
	require.True(t, ok)
	require.Len(t, state.Columns[playIdx].Cards, 2)
	require.Equal(t, "dog-max", state.Columns[playIdx].Cards[0].EntityID)
	require.Equal(t, "dog-bella", state.Columns[playIdx].Cards[1].EntityID)
}

func TestEndActivityUsesRestColumn(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	require.NoError(t, s.MoveCard(context.Background(), "dog-max", "play", 0))
	require.NoError(t, s.EndActivity(context.Background(), "dog-max"))
	s.Flush()

	require.Equal(t, []string{"dog-max:play", "dog-max:" + domain.RestTypeCode}, client.recorded())

	card, _ := s.State().Find("dog-max")
	require.Equal(t, domain.RestTypeCode, card.TypeCode)
}

func TestSameEntityActionsDeliverInOrder(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	codes := []string{"play", domain.RestTypeCode, "play", domain.RestTypeCode, "play"}
	for _, code := range codes {
		require.NoError(t, s.MoveCard(context.Background(), "dog-max", code, 0))
	}
	s.Flush()

	got := client.recorded()
	require.Len(t, got, len(codes))
	for i, code := range codes {
		require.Equal(t, "dog-max:"+code, got[i])
	}
}

func TestCloseDrainsMovesParkedOnFullLane(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	client := &fakeClient{snapshot: testSnapshot(now), gate: release}
	s := NewSession(client,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithSessionClock(func() time.Time { return now }),
	)
	require.NoError(t, s.Refresh(context.Background()))

	// One move held in the worker plus a full lane buffer, so the next
	// move blocks on the lane send.
	codes := []string{"play", domain.RestTypeCode}
	for i := 0; i < laneBuffer+1; i++ {
		require.NoError(t, s.MoveCard(context.Background(), "dog-max", codes[i%2], 0))
	}

	parked := make(chan error, 1)
	go func() {
		parked <- s.MoveCard(context.Background(), "dog-max", codes[(laneBuffer+1)%2], 0)
	}()
	time.Sleep(100 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	close(release)

	require.NoError(t, <-parked)
	<-closed
	require.Len(t, client.recorded(), laneBuffer+2, "close must drain every queued move")
}

func TestRollbackSurvivesCanceledJobContext(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{
		snapshot:  testSnapshot(now),
		failCodes: map[string]error{"play": context.Canceled},
	}
	s := newTestSession(t, client, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.MoveCard(ctx, "dog-max", "play", 0))
	s.Flush()

	// The corrective reload must not inherit the canceled context, or
	// the optimistic move would stick around.
	card, ok := s.State().Find("dog-max")
	require.True(t, ok)
	require.Equal(t, domain.RestTypeCode, card.TypeCode)
	require.GreaterOrEqual(t, client.boardCalls, 2)
}

func TestMutationsAfterCloseFail(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := NewSession(client, WithLogger(log.New(testWriter{t}, "", 0)))
	require.NoError(t, s.Refresh(context.Background()))
	s.Close()

	err := s.MoveCard(context.Background(), "dog-max", "play", 0)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestMoveUnknownEntity(t *testing.T) {
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{snapshot: testSnapshot(now)}
	s := newTestSession(t, client, now)

	err := s.MoveCard(context.Background(), "dog-ghost", "play", 0)
	require.ErrorIs(t, err, ErrNotOnBoard)
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
