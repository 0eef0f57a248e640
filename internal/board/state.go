// Package board implements the client-side board projection and the
// optimistic drag/quick-log synchronisation protocol.
package board

import (
	"time"

	"example.com/kennelboard/internal/domain"
)

// Card is one entity on the board with its locally-known activity.
type Card struct {
	EntityID  string
	Name      string
	PhotoURL  string
	TypeCode  string
	StartedAt time.Time
}

// Column is an ordered list of cards under one activity type.
type Column struct {
	TypeCode string
	Label    string
	Cards    []Card
}

// State is the client-side projection of the board. It is a plain value
// so snapshots can be copied and compared freely.
type State struct {
	Columns []Column
}

// StateFromSnapshot converts the server's authoritative snapshot into a
// local projection.
func StateFromSnapshot(snap *domain.BoardSnapshot) State {
	state := State{Columns: make([]Column, 0, len(snap.Columns))}
	for _, col := range snap.Columns {
		cards := make([]Card, 0, len(col.Entities))
		for _, e := range col.Entities {
			cards = append(cards, Card{
				EntityID:  e.EntityID,
				Name:      e.Name,
				PhotoURL:  e.PhotoURL,
				TypeCode:  e.TypeCode,
				StartedAt: e.StartedAt,
			})
		}
		state.Columns = append(state.Columns, Column{
			TypeCode: col.Type.Code,
			Label:    col.Type.Label,
			Cards:    cards,
		})
	}
	return state
}

// clone deep-copies the state so optimistic mutations never alias a
// snapshot handed out to callers.
func (s State) clone() State {
	out := State{Columns: make([]Column, len(s.Columns))}
	for i, col := range s.Columns {
		cards := make([]Card, len(col.Cards))
		copy(cards, col.Cards)
		out.Columns[i] = Column{TypeCode: col.TypeCode, Label: col.Label, Cards: cards}
	}
	return out
}

// locate finds the card's column and position.
func (s State) locate(entityID string) (colIdx, cardIdx int, ok bool) {
	for ci, col := range s.Columns {
		for di, card := range col.Cards {
			if card.EntityID == entityID {
				return ci, di, true
			}
		}
	}
	return 0, 0, false
}

// columnIndex finds a column by type code.
func (s State) columnIndex(typeCode string) (int, bool) {
	for i, col := range s.Columns {
		if col.TypeCode == typeCode {
			return i, true
		}
	}
	return 0, false
}

// Find returns the card for the entity, if it is on the board.
func (s State) Find(entityID string) (Card, bool) {
	ci, di, ok := s.locate(entityID)
	if !ok {
		return Card{}, false
	}
	return s.Columns[ci].Cards[di], true
}

// remove deletes the card at the given position and returns it.
func (s *State) remove(colIdx, cardIdx int) Card {
	col := &s.Columns[colIdx]
	card := col.Cards[cardIdx]
	col.Cards = append(col.Cards[:cardIdx], col.Cards[cardIdx+1:]...)
	return card
}

// insert places the card into the column at position; a negative or
// out-of-range position appends.
func (s *State) insert(colIdx int, card Card, position int) {
	col := &s.Columns[colIdx]
	if position < 0 || position > len(col.Cards) {
		position = len(col.Cards)
	}
	col.Cards = append(col.Cards, Card{})
	copy(col.Cards[position+1:], col.Cards[position:])
	col.Cards[position] = card
}
