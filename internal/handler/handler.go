// Package handler exposes the promotion engine over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace-promo/internal/domain/auth"
	"github.com/xenking/marketplace-promo/internal/domain/checkout"
	"github.com/xenking/marketplace-promo/internal/domain/coupon"
	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/pkg/httpmiddleware"
)

// Rules manages seller discount rules. *discount.Service implements it.
type Rules interface {
	Create(ctx context.Context, r discount.Rule) (*discount.Rule, error)
	Update(ctx context.Context, id string, r discount.Rule) (*discount.Rule, error)
	Deactivate(ctx context.Context, id string) (*discount.Rule, error)
	Get(ctx context.Context, id string) (*discount.Rule, error)
}

// Events manages seller campaigns. *event.Service implements it.
type Events interface {
	Create(ctx context.Context, req event.CreateRequest) (*event.Event, error)
	Get(ctx context.Context, id string) (*event.Event, error)
	StartNow(ctx context.Context, id string) (*event.Event, error)
	Pause(ctx context.Context, id string) (*event.Event, error)
	Resume(ctx context.Context, id string) (*event.Event, error)
	End(ctx context.Context, id string) (*event.Event, error)
}

// Codes validates a single discount code.
type Codes interface {
	Validate(ctx context.Context, req coupon.Request) (*coupon.Result, error)
}

// Checkout prices carts and manages orders.
type Checkout interface {
	Preview(ctx context.Context, req checkout.Request) (*checkout.Quote, error)
	Commit(ctx context.Context, req checkout.Request) (*checkout.CommitResult, error)
	Cancel(ctx context.Context, id string, by checkout.Canceller) (*checkout.Order, error)
}

// Authenticator checks seller API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// Config holds non-dependency settings of the Handler.
type Config struct {
	// ValidateLimit throttles the public code validation endpoint. Optional.
	ValidateLimit httpmiddleware.Middleware
}

// Handler serves the public checkout API and the seller API.
type Handler struct {
	rules    Rules
	events   Events
	codes    Codes
	checkout Checkout
	auth     Authenticator
	cfg      Config
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(
	cfg Config,
	rules Rules,
	events Events,
	codes Codes,
	checkout Checkout,
	authn Authenticator,
) *Handler {
	return &Handler{
		rules:    rules,
		events:   events,
		codes:    codes,
		checkout: checkout,
		auth:     authn,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Router returns the routing tree for all API endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		validate := r
		if h.cfg.ValidateLimit != nil {
			validate = r.With(h.cfg.ValidateLimit)
		}
		validate.Post("/discounts/validate", h.ValidateCode)

		r.Post("/checkout/preview", h.PreviewCheckout)
		r.Post("/checkout/orders", h.PlaceOrder)
		r.Post("/orders/{id}/cancel", h.CancelOrder)

		r.Route("/seller", func(r chi.Router) {
			r.Use(h.RequireSeller)

			r.Post("/rules", h.CreateRule)
			r.Get("/rules/{id}", h.GetRule)
			r.Put("/rules/{id}", h.UpdateRule)
			r.Post("/rules/{id}/deactivate", h.DeactivateRule)

			r.Post("/events", h.CreateEvent)
			r.Get("/events/{id}", h.GetEvent)
			r.Post("/events/{id}/start", h.eventCommand(h.events.StartNow))
			r.Post("/events/{id}/pause", h.eventCommand(h.events.Pause))
			r.Post("/events/{id}/resume", h.eventCommand(h.events.Resume))
			r.Post("/events/{id}/end", h.eventCommand(h.events.End))
		})
	})
	return r
}
