package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-promo/internal/domain/checkout"
	"github.com/xenking/marketplace-promo/internal/domain/coupon"
	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/pkg/httpmiddleware"
)

func readCustomer(d *jx.Decoder, c *discount.Customer) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

// ValidateCode handles POST /api/discounts/validate.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	req := coupon.Request{IP: httpmiddleware.ClientIP(r)}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = d.Str()
		case "cartTotal":
			req.CartTotal, err = readDecimal(d)
		case "customer":
			err = readCustomer(d, &req.Customer)
		case "shippingCost":
			req.ShippingCost, err = readOptDecimal(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				l := discount.Line{ID: strconv.Itoa(len(req.Items) + 1)}
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						l.ProductID, err = d.Str()
					case "categoryId":
						l.CategoryID, err = d.Str()
					case "quantity":
						l.Quantity, err = d.Int()
					case "unitPrice":
						l.UnitPrice, err = readDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, l)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.codes.Validate(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(res.Valid)
		e.FieldStart("code")
		e.Str(res.Code)
		if res.RuleID != "" {
			e.FieldStart("ruleId")
			e.Str(res.RuleID)
			e.FieldStart("description")
			e.Str(res.Description)
		}
		writeMoney(e, "discountAmount", res.DiscountAmount)
		writeMoney(e, "finalAmount", res.FinalAmount)
		e.FieldStart("freeShipping")
		e.Bool(res.FreeShipping)
		writeReasons(e, "errors", res.Errors)
		e.ObjEnd()
	})
}

func (h *Handler) decodeCheckout(w http.ResponseWriter, r *http.Request) (checkout.Request, error) {
	req := checkout.Request{IP: httpmiddleware.ClientIP(r)}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it checkout.Item
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						it.ProductID, err = d.Str()
					case "quantity":
						it.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "codes":
			var codes []string
			codes, err = readStrings(d)
			req.Codes = append(req.Codes, codes...)
		case "couponCode":
			var code string
			code, err = d.Str()
			if code != "" {
				req.Codes = append(req.Codes, code)
			}
		case "customer":
			err = readCustomer(d, &req.Customer)
		case "shippingCost":
			req.ShippingCost, err = readOptDecimal(d)
		case "expectedTotal":
			req.ExpectedTotal, err = readOptDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// PreviewCheckout handles POST /api/checkout/preview.
func (h *Handler) PreviewCheckout(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCheckout(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.checkout.Preview(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// PlaceOrder handles POST /api/checkout/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCheckout(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.checkout.Commit(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		e.FieldStart("quote")
		encodeQuote(e, res.Quote)
		e.ObjEnd()
	})
}

// CancelOrder handles POST /api/orders/{id}/cancel. The caller is either a
// seller or the customer the order was placed for.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	by, err := h.canceller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.checkout.Cancel(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func writeReasons(e *jx.Encoder, field string, reasons []discount.Reason) {
	e.FieldStart(field)
	e.ArrStart()
	for _, r := range reasons {
		e.Str(string(r))
	}
	e.ArrEnd()
}

func encodeApplied(e *jx.Encoder, applied []checkout.AppliedDiscount) {
	e.FieldStart("applied")
	e.ArrStart()
	for _, a := range applied {
		e.ObjStart()
		e.FieldStart("ruleId")
		e.Str(a.RuleID)
		e.FieldStart("kind")
		e.Str(string(a.Kind))
		e.FieldStart("type")
		e.Str(string(a.Type))
		e.FieldStart("name")
		e.Str(a.Name)
		if a.Code != "" {
			e.FieldStart("code")
			e.Str(a.Code)
		}
		writeMoney(e, "amount", a.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeQuote(e *jx.Encoder, q *checkout.Quote) {
	e.ObjStart()
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range q.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		writeMoney(e, "unitPrice", l.UnitPrice)
		writeMoney(e, "subtotal", l.Subtotal)
		writeMoney(e, "discount", l.Discount)
		writeMoney(e, "total", l.Total)
		e.ObjEnd()
	}
	e.ArrEnd()
	writeMoney(e, "subtotal", q.Subtotal)
	writeMoney(e, "discount", q.Discount)
	writeMoney(e, "shippingDiscount", q.ShippingDiscount)
	e.FieldStart("freeShipping")
	e.Bool(q.FreeShipping)
	writeMoney(e, "total", q.Total)
	encodeApplied(e, q.Applied)

	e.FieldStart("dropped")
	e.ArrStart()
	for _, d := range q.Dropped {
		e.ObjStart()
		e.FieldStart("ruleId")
		e.Str(d.RuleID)
		e.FieldStart("reason")
		e.Str(string(d.Reason))
		if d.BlockedBy != "" {
			e.FieldStart("blockedBy")
			e.Str(d.BlockedBy)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("rejected")
	e.ArrStart()
	for _, rj := range q.Rejected {
		e.ObjStart()
		e.FieldStart("ruleId")
		e.Str(rj.RuleID)
		e.FieldStart("code")
		e.Str(rj.Code)
		writeReasons(e, "reasons", rj.Reasons)
		e.ObjEnd()
	}
	e.ArrEnd()

	writeStrings(e, "unknownCodes", q.UnknownCodes)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *checkout.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	if o.CustomerID != "" {
		e.FieldStart("customerId")
		e.Str(o.CustomerID)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	writeStrings(e, "codes", o.Codes)
	encodeApplied(e, o.Applied)
	writeMoney(e, "subtotal", o.Subtotal)
	writeMoney(e, "discount", o.Discount)
	writeMoney(e, "shippingDiscount", o.ShippingDiscount)
	writeMoney(e, "total", o.Total)
	e.FieldStart("status")
	e.Str(string(o.Status))
	writeTime(e, "createdAt", o.CreatedAt)
	writeOptTime(e, "cancelledAt", o.CancelledAt)
	e.ObjEnd()
}
