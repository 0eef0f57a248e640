// Package domain defines the activity tracking state machine for the
// facility board.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEntityNotFound is returned when the dog is unknown to the facility.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrUnknownActivityType is returned when the target code does not
	// resolve in the facility's merged catalog.
	ErrUnknownActivityType = errors.New("unknown activity type")
	// ErrNoActiveProgram is returned when the entity has no program to
	// attribute the new activity to.
	ErrNoActiveProgram = errors.New("entity has no active program")
	// ErrConflict indicates the store detected a lost race between two
	// concurrent transitions for the same entity.
	ErrConflict = errors.New("concurrent transition conflict")
	// ErrTransitionFailed wraps infrastructure failures; the caller must
	// assume nothing was committed.
	ErrTransitionFailed = errors.New("transition failed")
)

// Repository captures persistence operations for the transition engine
// and board projection.
type Repository interface {
	TypeConfig(ctx context.Context, facilityID string) (FacilityTypeConfig, error)
	Entity(ctx context.Context, facilityID, entityID string) (*Entity, error)
	// CloseAndOpen atomically ends the entity's current open instance, if
	// any, and opens next in its place. When the open instance already
	// has next's type code it is returned unchanged with unchanged=true
	// and no rows are written.
	CloseAndOpen(ctx context.Context, next ActivityInstance) (inst *ActivityInstance, unchanged bool, err error)
	OpenInstances(ctx context.Context, facilityID string) ([]OpenInstance, error)
	Timeline(ctx context.Context, facilityID, entityID string, cursor *Cursor, limit int) ([]ActivityInstance, *Cursor, error)
}

// Service orchestrates activity transitions and board reads.
type Service struct {
	repo   Repository
	logger *log.Logger
	now    func() time.Time
}

// ServiceOption configures optional Service behaviour.
type ServiceOption func(*Service)

// WithServiceLogger overrides the logger used for registry merge notices.
func WithServiceLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		logger: log.New(log.Writer(), "[board] ", log.LstdFlags),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry resolves the facility's effective activity-type catalog.
func (s *Service) Registry(ctx context.Context, facilityID string) (*Registry, error) {
	cfg, err := s.repo.TypeConfig(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return ResolveRegistry(cfg, s.logger), nil
}

// TransitionInput captures one requested reassignment.
type TransitionInput struct {
	FacilityID  string
	EntityID    string
	TypeCode    string
	PerformedBy string
	Notes       string
}

// Transition closes the entity's open activity and opens one of the
// target type, as a single atomic storage operation. Re-dropping the
// entity into the column it already occupies is a no-op and returns the
// existing instance with unchanged=true.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (*ActivityInstance, bool, error) {
	reg, err := s.Registry(ctx, input.FacilityID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrTransitionFailed, err)
	}
	if _, ok := reg.ByCode(input.TypeCode); !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownActivityType, input.TypeCode)
	}

	entity, err := s.repo.Entity(ctx, input.FacilityID, input.EntityID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrTransitionFailed, err)
	}
	if entity == nil {
		return nil, false, fmt.Errorf("%w: %q", ErrEntityNotFound, input.EntityID)
	}
	if entity.ProgramID == "" {
		return nil, false, fmt.Errorf("%w: %q", ErrNoActiveProgram, input.EntityID)
	}

	next := ActivityInstance{
		ID:          uuid.NewString(),
		FacilityID:  input.FacilityID,
		EntityID:    input.EntityID,
		ProgramID:   entity.ProgramID,
		TypeCode:    input.TypeCode,
		PerformedBy: input.PerformedBy,
		StartedAt:   s.now(),
		Notes:       input.Notes,
	}

	inst, unchanged, err := s.repo.CloseAndOpen(ctx, next)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", ErrTransitionFailed, err)
	}
	return inst, unchanged, nil
}

// EndActivity moves the entity back to the canonical rest column. It is
// a plain transition with a fixed target.
func (s *Service) EndActivity(ctx context.Context, facilityID, entityID, performedBy string) (*ActivityInstance, bool, error) {
	return s.Transition(ctx, TransitionInput{
		FacilityID:  facilityID,
		EntityID:    entityID,
		TypeCode:    RestTypeCode,
		PerformedBy: performedBy,
	})
}

// CurrentBoard builds the authoritative board projection from the open
// instance set.
func (s *Service) CurrentBoard(ctx context.Context, facilityID string) (*BoardSnapshot, error) {
	reg, err := s.Registry(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	open, err := s.repo.OpenInstances(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	return BuildBoard(facilityID, reg, open, s.now()), nil
}

// EntityTimeline lists the entity's append-only activity log, newest
// first, with cursor pagination.
func (s *Service) EntityTimeline(ctx context.Context, facilityID, entityID string, cursor *Cursor, limit int) ([]ActivityInstance, *Cursor, error) {
	entity, err := s.repo.Entity(ctx, facilityID, entityID)
	if err != nil {
		return nil, nil, err
	}
	if entity == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrEntityNotFound, entityID)
	}
	return s.repo.Timeline(ctx, facilityID, entityID, cursor, limit)
}
