package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/kennelboard/internal/cache"
)

// InvalidationHandler drops cached board snapshots for facilities that had activity.
type InvalidationHandler struct {
	boards cache.BoardCache
}

// NewInvalidationHandler constructs a handler backed by the provided cache.
func NewInvalidationHandler(boards cache.BoardCache) *InvalidationHandler {
	return &InvalidationHandler{boards: boards}
}

// Handle evicts the facility's board snapshot so the next read rebuilds it.
func (h *InvalidationHandler) Handle(ctx context.Context, msg Message) error {
	if msg.FacilityID == "" {
		return nil
	}
	return h.boards.Invalidate(ctx, msg.FacilityID)
}

// EventLogHandler writes consumed events into Postgres for downstream auditing.
type EventLogHandler struct {
	pool *pgxpool.Pool
}

// NewEventLogHandler constructs a handler backed by the provided pool.
func NewEventLogHandler(pool *pgxpool.Pool) *EventLogHandler {
	return &EventLogHandler{pool: pool}
}

// Handle stores the event payload in the activity_event_log table.
func (h *EventLogHandler) Handle(ctx context.Context, msg Message) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO activity_event_log (event_type, facility_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		msg.EventType,
		msg.FacilityID,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}

// MultiHandler fans a message out to several handlers in order, stopping on the first error.
type MultiHandler []Handler

// Handle invokes each wrapped handler in sequence.
func (m MultiHandler) Handle(ctx context.Context, msg Message) error {
	for _, h := range m {
		if err := h.Handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
