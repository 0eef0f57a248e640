// Package events defines the payloads recorded in the outbox and
// consumed by downstream projections.
package events

import "time"

// ActivityTransitioned is emitted when a new activity instance opens
// for an entity, closing whichever one was open before it.
type ActivityTransitioned struct {
	InstanceID   string    `json:"instance_id"`
	FacilityID   string    `json:"facility_id"`
	EntityID     string    `json:"entity_id"`
	ProgramID    string    `json:"program_id"`
	FromTypeCode string    `json:"from_type_code,omitempty"`
	TypeCode     string    `json:"type_code"`
	PerformedBy  string    `json:"performed_by"`
	StartedAt    time.Time `json:"started_at"`
}

// ActivityEnded is emitted when an open instance is closed.
type ActivityEnded struct {
	InstanceID string    `json:"instance_id"`
	FacilityID string    `json:"facility_id"`
	EntityID   string    `json:"entity_id"`
	TypeCode   string    `json:"type_code"`
	EndedAt    time.Time `json:"ended_at"`
}
