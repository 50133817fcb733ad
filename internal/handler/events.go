package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-promo/internal/domain/event"
)

func (h *Handler) writeEvent(w http.ResponseWriter, status int, ev *event.Event) {
	now := h.now()
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(ev.ID)
		e.FieldStart("name")
		e.Str(ev.Name)
		writeTime(e, "startingDate", ev.StartingDate)
		writeTime(e, "endingDate", ev.EndingDate)
		e.FieldStart("autoStart")
		e.Bool(ev.AutoStart)
		e.FieldStart("autoEnd")
		e.Bool(ev.AutoEnd)
		e.FieldStart("isActive")
		e.Bool(ev.IsActive)
		e.FieldStart("status")
		e.Str(string(ev.Status(now)))
		writeTime(e, "createdAt", ev.CreatedAt)
		writeTime(e, "updatedAt", ev.UpdatedAt)
		e.ObjEnd()
	})
}

// CreateEvent handles POST /api/seller/events. Mode defaults to "later".
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	req := event.CreateRequest{Mode: event.ScheduleLater}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			req.Name, err = d.Str()
		case "mode":
			var s string
			s, err = d.Str()
			req.Mode = event.ScheduleMode(s)
		case "startingDate":
			req.StartingDate, err = readTime(d)
		case "endingDate":
			req.EndingDate, err = readTime(d)
		case "autoStart":
			req.AutoStart, err = d.Bool()
		case "autoEnd":
			req.AutoEnd, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	ev, err := h.events.Create(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeEvent(w, http.StatusCreated, ev)
}

// GetEvent handles GET /api/seller/events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeEvent(w, http.StatusOK, ev)
}

// eventCommand adapts a lifecycle operation to POST /api/seller/events/{id}/<op>.
func (h *Handler) eventCommand(op func(ctx context.Context, id string) (*event.Event, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		h.writeEvent(w, http.StatusOK, ev)
	}
}
