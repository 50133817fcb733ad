package event

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRequest holds the seller form for a new event.
type CreateRequest struct {
	Name         string
	Mode         ScheduleMode
	StartingDate time.Time
	EndingDate   time.Time
	AutoStart    bool
	AutoEnd      bool
}

// Service applies seller lifecycle commands to stored events.
type Service struct {
	events Repository
	now    func() time.Time
}

// NewService creates an event Service backed by the given repository.
func NewService(events Repository) *Service {
	return &Service{
		events: events,
		now:    time.Now,
	}
}

// Create validates and stores a new event. In ScheduleNow mode the event
// starts immediately with auto start and the active toggle enabled.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Event, error) {
	now := s.now().UTC()
	e := &Event{
		ID:           uuid.NewString(),
		Name:         req.Name,
		StartingDate: req.StartingDate.UTC(),
		EndingDate:   req.EndingDate.UTC(),
		AutoStart:    req.AutoStart,
		AutoEnd:      req.AutoEnd,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Mode == ScheduleNow {
		e.StartingDate = now
		e.AutoStart = true
	}
	if err := e.Validate(now, req.Mode); err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, errors.Wrap(err, "create event")
	}

	zctx.From(ctx).Info("Event created",
		zap.String("event_id", e.ID),
		zap.Time("starting_date", e.StartingDate),
		zap.Time("ending_date", e.EndingDate),
	)
	return e, nil
}

// Get returns the event with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	return s.events.Get(ctx, id)
}

// StartNow starts an upcoming or paused event immediately.
func (s *Service) StartNow(ctx context.Context, id string) (*Event, error) {
	return s.transition(ctx, id, "start", func(e Event, now time.Time) (Event, error) {
		return e.StartNow(now)
	})
}

// Pause disables the active toggle.
func (s *Service) Pause(ctx context.Context, id string) (*Event, error) {
	return s.transition(ctx, id, "pause", func(e Event, now time.Time) (Event, error) {
		return e.SetActive(false, now)
	})
}

// Resume re-enables the active toggle. Resuming after the ending date fails
// with ErrEventEnded.
func (s *Service) Resume(ctx context.Context, id string) (*Event, error) {
	return s.transition(ctx, id, "resume", func(e Event, now time.Time) (Event, error) {
		return e.SetActive(true, now)
	})
}

// End terminates the event now.
func (s *Service) End(ctx context.Context, id string) (*Event, error) {
	return s.transition(ctx, id, "end", func(e Event, now time.Time) (Event, error) {
		return e.EndNow(now)
	})
}

func (s *Service) transition(
	ctx context.Context,
	id, op string,
	fn func(Event, time.Time) (Event, error),
) (*Event, error) {
	cur, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	next, err := fn(*cur, now)
	if err != nil {
		return nil, err
	}
	if err := s.events.Update(ctx, &next); err != nil {
		return nil, errors.Wrapf(err, "%s event", op)
	}

	zctx.From(ctx).Info("Event transitioned",
		zap.String("event_id", id),
		zap.String("op", op),
		zap.String("from", string(cur.Status(now))),
		zap.String("to", string(next.Status(now))),
	)
	return &next, nil
}
