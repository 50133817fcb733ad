package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-promo/internal/domain/event"
)

const (
	eventColumns = `id, name, starting_date, ending_date, auto_start, auto_end, is_active, created_at, updated_at`

	insertEventSQL = `INSERT INTO promo_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	updateEventSQL = `UPDATE promo_events SET name = $2, starting_date = $3, ending_date = $4,
		auto_start = $5, auto_end = $6, is_active = $7, updated_at = $8
		WHERE id = $1`

	getEventSQL = `SELECT ` + eventColumns + ` FROM promo_events WHERE id = $1`

	getEventsByIDsSQL = `SELECT ` + eventColumns + ` FROM promo_events WHERE id = ANY($1)`
)

var _ event.Repository = (*EventRepository)(nil)

// EventRepository implements event.Repository backed by PostgreSQL.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository returns an EventRepository that uses the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Create(ctx context.Context, e *event.Event) error {
	_, err := r.pool.Exec(ctx, insertEventSQL,
		e.ID, e.Name, e.StartingDate, e.EndingDate,
		e.AutoStart, e.AutoEnd, e.IsActive, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert event %q", e.ID)
	}
	return nil
}

func (r *EventRepository) Update(ctx context.Context, e *event.Event) error {
	tag, err := r.pool.Exec(ctx, updateEventSQL,
		e.ID, e.Name, e.StartingDate, e.EndingDate,
		e.AutoStart, e.AutoEnd, e.IsActive, e.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update event %q", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return event.ErrNotFound
	}
	return nil
}

func (r *EventRepository) Get(ctx context.Context, id string) (*event.Event, error) {
	rows, err := r.pool.Query(ctx, getEventSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get event %q", id)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEvent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, event.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get event %q", id)
	}
	return &e, nil
}

func (r *EventRepository) GetByIDs(ctx context.Context, ids []string) ([]event.Event, error) {
	rows, err := r.pool.Query(ctx, getEventsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get events by ids")
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (event.Event, error) {
	var e event.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.StartingDate, &e.EndingDate,
		&e.AutoStart, &e.AutoEnd, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	)
	e.StartingDate = e.StartingDate.UTC()
	e.EndingDate = e.EndingDate.UTC()
	return e, err
}
