package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/kennelboard/internal/domain"
)

// Client is the session's view of the transition engine and the
// authoritative board loader.
type Client interface {
	Transition(ctx context.Context, entityID, typeCode, notes string) error
	Board(ctx context.Context) (*domain.BoardSnapshot, error)
}

// ErrSessionClosed is returned for mutations after Close.
var ErrSessionClosed = errors.New("board session closed")

// ErrNotOnBoard is returned when the dragged entity is not in the local
// projection; the caller should refresh.
var ErrNotOnBoard = errors.New("entity not on board")

const laneBuffer = 16

type job struct {
	ctx      context.Context
	entityID string
	typeCode string
	notes    string
}

// Session holds one client's board projection and runs the optimistic
// update protocol: every user action mutates the local state
// synchronously, and the matching server transition is dispatched in
// the background. Actions for the same entity are delivered in order
// through a per-entity lane; different entities proceed in parallel.
// Any transition failure discards the optimistic state and reloads the
// board from the server.
type Session struct {
	client   Client
	restCode string
	logger   *log.Logger
	now      func() time.Time

	mu     sync.Mutex
	state  State
	lanes  map[string]chan job
	closed bool

	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// SessionOption configures optional Session behaviour.
type SessionOption func(*Session)

// WithLogger overrides the session logger.
func WithLogger(logger *log.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithRestCode overrides the column EndActivity moves entities to.
func WithRestCode(code string) SessionOption {
	return func(s *Session) { s.restCode = code }
}

// WithSessionClock overrides the clock used to stamp optimistic moves.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession constructs a Session. Call Refresh before first use to
// load the authoritative projection.
func NewSession(client Client, opts ...SessionOption) *Session {
	s := &Session{
		client:   client,
		restCode: domain.RestTypeCode,
		logger:   log.New(log.Writer(), "[board-session] ", log.LstdFlags),
		now:      func() time.Time { return time.Now().UTC() },
		lanes:    make(map[string]chan job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh replaces the local projection with server truth.
func (s *Session) Refresh(ctx context.Context) error {
	snap, err := s.client.Board(ctx)
	if err != nil {
		return err
	}
	state := StateFromSnapshot(snap)
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// State returns a copy of the current local projection.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// MoveCard applies a drag: the card moves immediately in the local
// projection, and if the activity type changed a server transition is
// queued. A drop onto the card's current position is a no-op, and a
// reorder within the same column never restamps the activity clock.
func (s *Session) MoveCard(ctx context.Context, entityID, targetCode string, position int) error {
	return s.apply(ctx, entityID, targetCode, position, "")
}

// QuickLog applies a one-tap reassignment: the card appends to the end
// of the target column.
func (s *Session) QuickLog(ctx context.Context, entityID, typeCode, notes string) error {
	return s.apply(ctx, entityID, typeCode, -1, notes)
}

// EndActivity moves the entity back to the rest column.
func (s *Session) EndActivity(ctx context.Context, entityID string) error {
	return s.apply(ctx, entityID, s.restCode, -1, "")
}

func (s *Session) apply(ctx context.Context, entityID, targetCode string, position int, notes string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	colIdx, cardIdx, ok := s.state.locate(entityID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotOnBoard, entityID)
	}
	fromCol := s.state.Columns[colIdx]
	sameColumn := fromCol.TypeCode == targetCode

	if sameColumn && (position == cardIdx || position < 0) {
		s.mu.Unlock()
		return nil
	}

	card := s.state.remove(colIdx, cardIdx)
	if sameColumn {
		// Pure reorder: cosmetic only, the activity clock keeps running
		// and the server is not involved.
		s.state.insert(colIdx, card, position)
		s.mu.Unlock()
		return nil
	}

	card.TypeCode = targetCode
	card.StartedAt = s.now()
	if targetIdx, found := s.state.columnIndex(targetCode); found {
		s.state.insert(targetIdx, card, position)
	}
	// A hidden target column has no visual home; the server still
	// records the transition and a later refresh reconciles.

	lane := s.lane(entityID)
	s.inflight.Add(1)
	s.mu.Unlock()

	lane <- job{ctx: ctx, entityID: entityID, typeCode: targetCode, notes: notes}
	return nil
}

// lane returns the entity's dispatch channel, starting its worker on
// first use. Caller holds s.mu.
func (s *Session) lane(entityID string) chan job {
	if ch, ok := s.lanes[entityID]; ok {
		return ch
	}
	ch := make(chan job, laneBuffer)
	s.lanes[entityID] = ch
	s.workers.Add(1)
	go s.runLane(ch)
	return ch
}

func (s *Session) runLane(ch <-chan job) {
	defer s.workers.Done()
	for j := range ch {
		if err := s.client.Transition(j.ctx, j.entityID, j.typeCode, j.notes); err != nil {
			s.logger.Printf("transition failed (entity=%s, type=%s): %v; reloading board", j.entityID, j.typeCode, err)
			s.rollback()
		}
		s.inflight.Done()
	}
}

// rollback discards the optimistic projection and refetches server
// truth. A surgical inverse patch is deliberately not attempted: other
// clients may have moved the board since. The reload runs on its own
// context because the failed job's context is often the very reason the
// transition failed.
func (s *Session) rollback() {
	snap, err := s.client.Board(context.Background())
	if err != nil {
		s.logger.Printf("board reload failed: %v", err)
		return
	}
	state := StateFromSnapshot(snap)
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Flush blocks until every queued transition has resolved. Primarily
// for tests and orderly shutdown.
func (s *Session) Flush() {
	s.inflight.Wait()
}

// Close stops the dispatch lanes after draining queued work. The
// session rejects further mutations.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	lanes := s.lanes
	s.lanes = make(map[string]chan job)
	s.mu.Unlock()

	// Every apply that passed the closed check has already registered
	// with inflight, so waiting here drains the lanes and guarantees no
	// sender is left racing the close below.
	s.inflight.Wait()
	for _, ch := range lanes {
		close(ch)
	}
	s.workers.Wait()
}
