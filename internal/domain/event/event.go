// Package event models time-windowed promotional campaigns. An event's status
// is derived from its schedule, its auto start/end flags and the manual
// active toggle; it is never stored.
package event

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Status is the derived lifecycle state of an event.
type Status string

const (
	StatusUpcoming Status = "UPCOMING"
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusEnded    Status = "ENDED"
)

// ScheduleMode selects how StartingDate is chosen on creation.
type ScheduleMode string

const (
	// ScheduleNow starts the event at creation time.
	ScheduleNow ScheduleMode = "now"
	// ScheduleLater keeps the submitted StartingDate, which must not be in the past.
	ScheduleLater ScheduleMode = "later"
)

// Duration bounds of an event window.
const (
	MinDuration = time.Hour
	MaxDuration = 90 * 24 * time.Hour
)

var (
	ErrNotFound        = errors.New("event not found")
	ErrEventEnded      = errors.New("event has ended")
	ErrInvalidWindow   = errors.New("ending date must be after starting date")
	ErrTooShort        = errors.New("event must last at least 1 hour")
	ErrTooLong         = errors.New("event must not last longer than 90 days")
	ErrStartInPast     = errors.New("starting date must not be in the past")
	ErrNameRequired    = errors.New("event name is required")
	ErrUnknownSchedule = errors.New("unknown schedule mode")
)

// Event is a seller-defined campaign window that gates EVENT discounts.
type Event struct {
	ID           string
	Name         string
	StartingDate time.Time
	EndingDate   time.Time
	AutoStart    bool
	AutoEnd      bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Status derives the lifecycle state at now. Rules are evaluated in order:
// not yet started, ended with auto end, awaiting manual start, paused, active.
// An event with AutoEnd disabled stays ACTIVE past EndingDate until ended
// manually.
func (e Event) Status(now time.Time) Status {
	switch {
	case now.Before(e.StartingDate):
		return StatusUpcoming
	case now.After(e.EndingDate) && e.AutoEnd:
		return StatusEnded
	case !e.AutoStart:
		return StatusUpcoming
	case !e.IsActive:
		return StatusPaused
	default:
		return StatusActive
	}
}

// Validate checks the schedule of a new or edited event.
func (e Event) Validate(now time.Time, mode ScheduleMode) error {
	if e.Name == "" {
		return ErrNameRequired
	}
	switch mode {
	case ScheduleNow:
	case ScheduleLater:
		if e.StartingDate.Before(now) {
			return ErrStartInPast
		}
	default:
		return errors.Wrapf(ErrUnknownSchedule, "%q", mode)
	}
	return validateWindow(e.StartingDate, e.EndingDate)
}

func validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidWindow
	}
	d := end.Sub(start)
	if d < MinDuration {
		return ErrTooShort
	}
	if d > MaxDuration {
		return ErrTooLong
	}
	return nil
}

// StartNow moves the start to now and enables auto start and the active
// toggle. The remaining window must still satisfy the duration bounds.
func (e Event) StartNow(now time.Time) (Event, error) {
	if e.Status(now) == StatusEnded {
		return e, ErrEventEnded
	}
	if err := validateWindow(now, e.EndingDate); err != nil {
		return e, errors.Wrap(err, "start now")
	}
	e.StartingDate = now
	e.AutoStart = true
	e.IsActive = true
	e.UpdatedAt = now
	return e, nil
}

// SetActive toggles between ACTIVE and PAUSED. It is rejected once the
// ending date has passed.
func (e Event) SetActive(active bool, now time.Time) (Event, error) {
	if now.After(e.EndingDate) {
		return e, ErrEventEnded
	}
	e.IsActive = active
	e.UpdatedAt = now
	return e, nil
}

// EndNow terminates the event immediately. An event that has not started yet
// collapses to an empty window at now.
func (e Event) EndNow(now time.Time) (Event, error) {
	if e.Status(now) == StatusEnded {
		return e, ErrEventEnded
	}
	if e.StartingDate.After(now) {
		e.StartingDate = now
	}
	e.EndingDate = now
	e.AutoEnd = true
	e.UpdatedAt = now
	return e, nil
}

// Repository persists events.
type Repository interface {
	Create(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	GetByIDs(ctx context.Context, ids []string) ([]Event, error)
	Update(ctx context.Context, e *Event) error
}
