package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/auth"
	"github.com/xenking/marketplace-promo/internal/domain/checkout"
)

const (
	// APIKeyHeader carries the seller API key.
	APIKeyHeader = "api_key"
	// CustomerIDHeader names the customer acting on their own order.
	CustomerIDHeader = "X-Customer-ID"
)

// RequireSeller rejects requests without a valid seller-scoped API key.
func (h *Handler) RequireSeller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), auth.ScopeSeller)
		if err != nil {
			fail(w, r, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// canceller resolves who asks to cancel an order. A request carrying an API
// key must present a valid seller key; otherwise the customer header is
// required.
func (h *Handler) canceller(r *http.Request) (checkout.Canceller, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		if _, err := h.auth.Authenticate(r.Context(), key, auth.ScopeSeller); err != nil {
			return checkout.Canceller{}, err
		}
		return checkout.Canceller{Seller: true}, nil
	}
	customerID := r.Header.Get(CustomerIDHeader)
	if customerID == "" {
		return checkout.Canceller{}, auth.ErrUnauthorized
	}
	return checkout.Canceller{CustomerID: customerID}, nil
}
