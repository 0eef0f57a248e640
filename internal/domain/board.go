package domain

import (
	"sort"
	"time"
)

// EntitySummary is one card on the board: an entity and its current
// open activity.
type EntitySummary struct {
	EntityID   string
	Name       string
	PhotoURL   string
	InstanceID string
	TypeCode   string
	StartedAt  time.Time
	Timer      TimerState
}

// BoardColumn groups the entities currently open under one activity
// type. Columns are derived from open instances and never persisted.
type BoardColumn struct {
	Type     ActivityTypeDefinition
	Entities []EntitySummary
}

// BoardSnapshot is the authoritative columnar projection of a facility
// at one point in time.
type BoardSnapshot struct {
	FacilityID  string
	Columns     []BoardColumn
	GeneratedAt time.Time
}

// BuildBoard projects open instances onto the registry's board columns.
// Column order follows the registry; hidden types get no column, and
// open instances under a hidden or unknown type are simply not shown.
// Cards within a column order by how long they have been there, longest
// first, with name as tie-break.
func BuildBoard(facilityID string, reg *Registry, open []OpenInstance, now time.Time) *BoardSnapshot {
	byType := make(map[string][]EntitySummary)
	for _, oi := range open {
		def, ok := reg.ByCode(oi.Instance.TypeCode)
		if !ok || !def.ShowOnBoard {
			continue
		}
		byType[def.Code] = append(byType[def.Code], EntitySummary{
			EntityID:   oi.Entity.ID,
			Name:       oi.Entity.Name,
			PhotoURL:   oi.Entity.PhotoURL,
			InstanceID: oi.Instance.ID,
			TypeCode:   oi.Instance.TypeCode,
			StartedAt:  oi.Instance.StartedAt,
			Timer:      EvaluateTimer(oi.Instance.StartedAt, def, now),
		})
	}

	columns := make([]BoardColumn, 0)
	for _, def := range reg.Types() {
		if !def.ShowOnBoard {
			continue
		}
		cards := byType[def.Code]
		sort.SliceStable(cards, func(a, b int) bool {
			if !cards[a].StartedAt.Equal(cards[b].StartedAt) {
				return cards[a].StartedAt.Before(cards[b].StartedAt)
			}
			return cards[a].Name < cards[b].Name
		})
		columns = append(columns, BoardColumn{Type: def, Entities: cards})
	}

	return &BoardSnapshot{FacilityID: facilityID, Columns: columns, GeneratedAt: now}
}

// RefreshTimers re-evaluates every card's timer state against now.
// Cached snapshots call this before serving so a card crossing its
// warning or max threshold inside the cache TTL is classified the same
// as on a fresh build.
func (s *BoardSnapshot) RefreshTimers(now time.Time) {
	for ci := range s.Columns {
		def := s.Columns[ci].Type
		for ei := range s.Columns[ci].Entities {
			card := &s.Columns[ci].Entities[ei]
			card.Timer = EvaluateTimer(card.StartedAt, def, now)
		}
	}
}
