package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is one persisted event row. Events are written in the same
// transaction as the state change they describe.
type DomainEvent struct {
	ID          uuid.UUID
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
}

// InsertDomainEvent appends an event row.
func (q *Queries) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (DomainEvent, error) {
	const sql = `INSERT INTO domain_events (id, topic, aggregate_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	e := DomainEvent{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.db.QueryRow(ctx, sql, e.ID, e.Topic, e.AggregateID, e.Payload, e.CreatedAt).Scan(&e.CreatedAt); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}
