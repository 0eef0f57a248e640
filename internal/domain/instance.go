package domain

import "time"

// ActivityInstance is one row of the append-only activity log. An
// instance with a nil EndedAt is the entity's current open activity;
// the store guarantees at most one such row per entity.
type ActivityInstance struct {
	ID          string
	FacilityID  string
	EntityID    string
	ProgramID   string
	TypeCode    string
	PerformedBy string
	StartedAt   time.Time
	EndedAt     *time.Time
	Notes       string
}

// Open reports whether the instance is the entity's current activity.
func (i ActivityInstance) Open() bool {
	return i.EndedAt == nil
}

// Entity is the slice of the dog record the board consumes. The full
// record is owned by the dog-management collaborator.
type Entity struct {
	ID         string
	FacilityID string
	Name       string
	PhotoURL   string
	ProgramID  string
}

// OpenInstance pairs an open activity row with its entity's display
// metadata, as loaded for board projection.
type OpenInstance struct {
	Instance ActivityInstance
	Entity   Entity
}

// Cursor models the pagination token for timeline listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}
