package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/auth"
	"github.com/xenking/marketplace-promo/internal/domain/checkout"
	"github.com/xenking/marketplace-promo/internal/domain/coupon"
	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
	"github.com/xenking/marketplace-promo/pkg/httpmiddleware"
)

var eventValidationErrors = []error{
	event.ErrInvalidWindow,
	event.ErrTooShort,
	event.ErrTooLong,
	event.ErrStartInPast,
	event.ErrNameRequired,
	event.ErrUnknownSchedule,
}

// errorStatus maps domain errors to HTTP statuses. Zero means unexpected.
func errorStatus(err error) int {
	var (
		badReq  *badRequestError
		invalid *discount.ValidationError
		line    *discount.InvalidLineError
		qty     *checkout.InvalidQuantityError
		missing *checkout.ProductNotFoundError
	)
	switch {
	case errors.As(err, &badReq), errors.Is(err, checkout.ErrEmptyItems):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, checkout.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, discount.ErrNotFound), errors.Is(err, event.ErrNotFound), errors.Is(err, checkout.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, discount.ErrDuplicateCode),
		errors.Is(err, usage.ErrCapExceeded),
		errors.Is(err, checkout.ErrPriceChanged),
		errors.Is(err, event.ErrEventEnded):
		return http.StatusConflict
	case errors.As(err, &invalid),
		errors.As(err, &line),
		errors.As(err, &qty),
		errors.As(err, &missing),
		errors.Is(err, discount.ErrEmptyOrder),
		errors.Is(err, coupon.ErrCodeRequired):
		return http.StatusUnprocessableEntity
	}
	for _, target := range eventValidationErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return 0
}

// fail writes err as the API error envelope. Unexpected errors are logged
// and reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == 0 {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var invalid *discount.ValidationError
	if !errors.As(err, &invalid) {
		httpmiddleware.WriteError(w, status, err.Error())
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str("invalid discount rule")
		e.FieldStart("violations")
		e.ArrStart()
		for _, v := range invalid.Violations {
			e.ObjStart()
			e.FieldStart("field")
			e.Str(v.Field)
			e.FieldStart("message")
			e.Str(v.Message)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}
