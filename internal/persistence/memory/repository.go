// Package memory provides an in-memory Repository for local development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/kennelboard/internal/domain"
)

// Repository stores entities, type configuration, and the activity log
// in memory. A single mutex serialises transitions, which gives the
// same per-entity at-most-one-open guarantee the Postgres
// implementation enforces with row locks.
type Repository struct {
	mu        sync.Mutex
	entities  map[string]domain.Entity            // entityID -> entity
	config    map[string]domain.FacilityTypeConfig // facilityID -> config
	instances []domain.ActivityInstance
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		entities: make(map[string]domain.Entity),
		config:   make(map[string]domain.FacilityTypeConfig),
	}
}

// AddEntity registers a dog.
func (r *Repository) AddEntity(entity domain.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entity.ID] = entity
}

// SetTypeConfig installs a facility's override and custom records.
func (r *Repository) SetTypeConfig(facilityID string, cfg domain.FacilityTypeConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config[facilityID] = cfg
}

// TypeConfig implements domain.Repository.
func (r *Repository) TypeConfig(ctx context.Context, facilityID string) (domain.FacilityTypeConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config[facilityID], nil
}

// Entity implements domain.Repository.
func (r *Repository) Entity(ctx context.Context, facilityID, entityID string) (*domain.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity, ok := r.entities[entityID]
	if !ok || entity.FacilityID != facilityID {
		return nil, nil
	}
	return &entity, nil
}

// CloseAndOpen implements domain.Repository. The whole close-then-open
// sequence runs under the repository mutex.
func (r *Repository) CloseAndOpen(ctx context.Context, next domain.ActivityInstance) (*domain.ActivityInstance, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.instances {
		inst := &r.instances[i]
		if inst.EntityID != next.EntityID || inst.FacilityID != next.FacilityID || !inst.Open() {
			continue
		}
		if inst.TypeCode == next.TypeCode {
			existing := *inst
			return &existing, true, nil
		}
		ended := next.StartedAt
		inst.EndedAt = &ended
		break
	}

	r.instances = append(r.instances, next)
	opened := next
	return &opened, false, nil
}

// OpenInstances implements domain.Repository.
func (r *Repository) OpenInstances(ctx context.Context, facilityID string) ([]domain.OpenInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.OpenInstance, 0)
	for _, inst := range r.instances {
		if inst.FacilityID != facilityID || !inst.Open() {
			continue
		}
		entity := r.entities[inst.EntityID]
		out = append(out, domain.OpenInstance{Instance: inst, Entity: entity})
	}
	return out, nil
}

// Timeline implements domain.Repository.
func (r *Repository) Timeline(ctx context.Context, facilityID, entityID string, cursor *domain.Cursor, limit int) ([]domain.ActivityInstance, *domain.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]domain.ActivityInstance, 0)
	for _, inst := range r.instances {
		if inst.FacilityID == facilityID && inst.EntityID == entityID {
			matches = append(matches, inst)
		}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if !matches[a].StartedAt.Equal(matches[b].StartedAt) {
			return matches[a].StartedAt.After(matches[b].StartedAt)
		}
		return matches[a].ID > matches[b].ID
	})

	if cursor != nil {
		trimmed := matches[:0]
		for _, inst := range matches {
			if inst.StartedAt.Before(cursor.StartedAt) ||
				(inst.StartedAt.Equal(cursor.StartedAt) && inst.ID < cursor.ID) {
				trimmed = append(trimmed, inst)
			}
		}
		matches = trimmed
	}

	if limit <= 0 {
		limit = 20
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	var next *domain.Cursor
	if len(matches) == limit && limit > 0 {
		last := matches[len(matches)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	out := make([]domain.ActivityInstance, len(matches))
	copy(out, matches)
	return out, next, nil
}

// OpenCount reports how many open instances exist for the entity. Test
// helper for checking the at-most-one-open invariant.
func (r *Repository) OpenCount(entityID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, inst := range r.instances {
		if inst.EntityID == entityID && inst.Open() {
			count++
		}
	}
	return count
}

// InstanceCount reports the total number of log rows for the entity.
func (r *Repository) InstanceCount(entityID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, inst := range r.instances {
		if inst.EntityID == entityID {
			count++
		}
	}
	return count
}
