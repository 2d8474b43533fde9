package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore writes events to the domain_events table.
type PGStore struct {
	DB Querier
}

const insertEventSQL = `
INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, topic, aggregate_id, payload, occurred_at`

// InsertEvent persists a single event row.
func (s PGStore) InsertEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (Event, error) {
	if s.DB == nil {
		return Event{}, errors.New("events: database not configured")
	}
	var ev Event
	err := s.DB.QueryRow(ctx, insertEventSQL, uuid.New(), topic, aggregateID, payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

const listEventsSQL = `
SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events
WHERE aggregate_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2`

// ListEvents returns the newest events for aggregateID first.
func (s PGStore) ListEvents(ctx context.Context, aggregateID uuid.UUID, limit int) ([]Event, error) {
	if s.DB == nil {
		return nil, errors.New("events: database not configured")
	}
	rows, err := s.DB.Query(ctx, listEventsSQL, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		err := row.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
		return ev, err
	})
}
