// Package postgres provides the pgx-backed activity instance store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/kennelboard/internal/domain"
	"example.com/kennelboard/internal/events"
	"example.com/kennelboard/internal/observability"
)

// Repository provides Postgres-backed persistence for activity
// instances, facility type configuration, and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TypeConfig loads the facility's type overrides and custom types.
func (r *Repository) TypeConfig(ctx context.Context, facilityID string) (domain.FacilityTypeConfig, error) {
	var cfg domain.FacilityTypeConfig

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return cfg, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return cfg, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.facility_id', $1, true)", facilityID); err != nil {
		return cfg, err
	}

	rows, err := tx.Query(ctx,
		`SELECT code, label, icon, color, max_minutes, warning_minutes, show_on_board, sort_order
           FROM activity_type_overrides WHERE facility_id=$1`, facilityID)
	if err != nil {
		return cfg, err
	}
	for rows.Next() {
		var ov domain.TypeOverride
		if err := rows.Scan(&ov.Code, &ov.Label, &ov.Icon, &ov.Color, &ov.MaxMinutes, &ov.WarningMinutes, &ov.ShowOnBoard, &ov.SortOrder); err != nil {
			rows.Close()
			return cfg, err
		}
		cfg.Overrides = append(cfg.Overrides, ov)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cfg, err
	}

	rows, err = tx.Query(ctx,
		`SELECT code, label, icon, color, max_minutes, warning_minutes, show_on_board, sort_order
           FROM activity_type_customs WHERE facility_id=$1`, facilityID)
	if err != nil {
		return cfg, err
	}
	for rows.Next() {
		var def domain.ActivityTypeDefinition
		if err := rows.Scan(&def.Code, &def.Label, &def.Icon, &def.Color, &def.MaxMinutes, &def.WarningMinutes, &def.ShowOnBoard, &def.SortOrder); err != nil {
			rows.Close()
			return cfg, err
		}
		def.IsCustom = true
		cfg.Customs = append(cfg.Customs, def)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cfg, err
	}

	return cfg, tx.Commit(ctx)
}

// Entity loads the dog's board-facing fields.
func (r *Repository) Entity(ctx context.Context, facilityID, entityID string) (*domain.Entity, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.facility_id', $1, true)", facilityID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`SELECT dog_id, facility_id, name, COALESCE(photo_url, ''), COALESCE(program_id, '')
           FROM dogs WHERE facility_id=$1 AND dog_id=$2`, facilityID, entityID)

	var entity domain.Entity
	if err := row.Scan(&entity.ID, &entity.FacilityID, &entity.Name, &entity.PhotoURL, &entity.ProgramID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &entity, nil
}

// CloseAndOpen atomically ends the entity's open instance and opens the
// next one inside a single transaction. The SELECT ... FOR UPDATE on
// the open row serialises concurrent transitions for the same entity;
// the partial unique index on (entity_id) WHERE ended_at IS NULL
// backstops the invariant and surfaces lost races as ErrConflict.
func (r *Repository) CloseAndOpen(ctx context.Context, next domain.ActivityInstance) (*domain.ActivityInstance, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.facility_id', $1, true)", next.FacilityID); err != nil {
		return nil, false, err
	}

	row := tx.QueryRow(ctx,
		`SELECT instance_id, program_id, activity_type_code, performed_by, started_at, COALESCE(notes, '')
           FROM activity_instances
          WHERE facility_id=$1 AND entity_id=$2 AND ended_at IS NULL
            FOR UPDATE`, next.FacilityID, next.EntityID)

	var current domain.ActivityInstance
	current.FacilityID = next.FacilityID
	current.EntityID = next.EntityID
	scanErr := row.Scan(&current.ID, &current.ProgramID, &current.TypeCode, &current.PerformedBy, &current.StartedAt, &current.Notes)
	hasOpen := scanErr == nil
	if scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) {
		err = scanErr
		return nil, false, err
	}

	if hasOpen && current.TypeCode == next.TypeCode {
		// Re-drop into the same column: nothing to write.
		if err = tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return &current, true, nil
	}

	if hasOpen {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx,
			`UPDATE activity_instances SET ended_at=$1 WHERE instance_id=$2 AND ended_at IS NULL`,
			next.StartedAt, current.ID)
		if err != nil {
			return nil, false, err
		}
		if tag.RowsAffected() != 1 {
			err = fmt.Errorf("%w: open instance %s vanished mid-transition", domain.ErrConflict, current.ID)
			return nil, false, err
		}

		if err = r.insertOutbox(ctx, tx, next.FacilityID, next.EntityID, current.ID, "activity.ended", events.ActivityEnded{
			InstanceID: current.ID,
			FacilityID: next.FacilityID,
			EntityID:   next.EntityID,
			TypeCode:   current.TypeCode,
			EndedAt:    next.StartedAt,
		}); err != nil {
			return nil, false, err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO activity_instances (instance_id, facility_id, entity_id, program_id, activity_type_code, performed_by, started_at, ended_at, notes)
         VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,$8)`,
		next.ID, next.FacilityID, next.EntityID, next.ProgramID, next.TypeCode, next.PerformedBy, next.StartedAt, nullIfEmpty(next.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("%w: entity %s already has an open instance", domain.ErrConflict, next.EntityID)
		}
		return nil, false, err
	}

	fromCode := ""
	if hasOpen {
		fromCode = current.TypeCode
	}
	if err = r.insertOutbox(ctx, tx, next.FacilityID, next.EntityID, next.ID, "activity.transitioned", events.ActivityTransitioned{
		InstanceID:   next.ID,
		FacilityID:   next.FacilityID,
		EntityID:     next.EntityID,
		ProgramID:    next.ProgramID,
		FromTypeCode: fromCode,
		TypeCode:     next.TypeCode,
		PerformedBy:  next.PerformedBy,
		StartedAt:    next.StartedAt,
	}); err != nil {
		return nil, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	observability.RecordTransitionCommitted(next.StartedAt)
	opened := next
	return &opened, false, nil
}

// OpenInstances loads every open instance in the facility joined with
// the dog's display metadata.
func (r *Repository) OpenInstances(ctx context.Context, facilityID string) ([]domain.OpenInstance, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.facility_id', $1, true)", facilityID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT i.instance_id, i.entity_id, i.program_id, i.activity_type_code, i.performed_by, i.started_at, COALESCE(i.notes, ''),
                d.name, COALESCE(d.photo_url, '')
           FROM activity_instances i
           JOIN dogs d ON d.dog_id = i.entity_id AND d.facility_id = i.facility_id
          WHERE i.facility_id=$1 AND i.ended_at IS NULL`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.OpenInstance, 0)
	for rows.Next() {
		oi := domain.OpenInstance{
			Instance: domain.ActivityInstance{FacilityID: facilityID},
			Entity:   domain.Entity{FacilityID: facilityID},
		}
		if err := rows.Scan(&oi.Instance.ID, &oi.Instance.EntityID, &oi.Instance.ProgramID, &oi.Instance.TypeCode,
			&oi.Instance.PerformedBy, &oi.Instance.StartedAt, &oi.Instance.Notes,
			&oi.Entity.Name, &oi.Entity.PhotoURL); err != nil {
			return nil, err
		}
		oi.Entity.ID = oi.Instance.EntityID
		oi.Entity.ProgramID = oi.Instance.ProgramID
		out = append(out, oi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// Timeline returns the entity's activity log newest first.
func (r *Repository) Timeline(ctx context.Context, facilityID, entityID string, cursor *domain.Cursor, limit int) ([]domain.ActivityInstance, *domain.Cursor, error) {
	args := []interface{}{facilityID, entityID, limit}
	query := `SELECT instance_id, program_id, activity_type_code, performed_by, started_at, ended_at, COALESCE(notes, '')
           FROM activity_instances
          WHERE facility_id=$1 AND entity_id=$2`

	if cursor != nil {
		query += ` AND (started_at, instance_id) < ($4, $5)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, instance_id DESC LIMIT $3`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.facility_id', $1, true)", facilityID); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityInstance, 0, limit)
	for rows.Next() {
		inst := domain.ActivityInstance{FacilityID: facilityID, EntityID: entityID}
		if err := rows.Scan(&inst.ID, &inst.ProgramID, &inst.TypeCode, &inst.PerformedBy, &inst.StartedAt, &inst.EndedAt, &inst.Notes); err != nil {
			return nil, nil, err
		}
		results = append(results, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, facilityID, entityID, instanceID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := fmt.Sprintf("%s:%s", facilityID, entityID)
	dedupeKey := fmt.Sprintf("%s:%s", instanceID, eventType)

	const stmt = `INSERT INTO outbox (facility_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		facilityID,
		"activity_instance",
		entityID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"activity.transitioned": {
		Topic:         "board_activity_events",
		SchemaSubject: "board_activity_events-value",
	},
	"activity.ended": {
		Topic:         "board_activity_closed",
		SchemaSubject: "board_activity_closed-value",
	},
}
