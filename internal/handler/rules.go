package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
)

func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (discount.Rule, error) {
	rule := discount.Rule{IsActive: true}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "kind":
			var s string
			s, err = d.Str()
			rule.Kind = discount.Kind(s)
		case "type":
			var s string
			s, err = d.Str()
			rule.Type = discount.Type(s)
		case "name":
			rule.Name, err = d.Str()
		case "description":
			rule.Description, err = d.Str()
		case "code":
			rule.Code, err = d.Str()
		case "eventId":
			rule.EventID, err = d.Str()
		case "value":
			rule.Value, err = readDecimal(d)
		case "minQuantity":
			rule.MinQuantity, err = d.Int()
		case "tiers":
			err = d.Arr(func(d *jx.Decoder) error {
				var t discount.Tier
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "minQuantity":
						t.MinQuantity, err = d.Int()
					case "minSubtotal":
						t.MinSubtotal, err = readDecimal(d)
					case "percent":
						t.Percent, err = readDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				rule.Tiers = append(rule.Tiers, t)
				return nil
			})
		case "minimumOrderAmount":
			rule.MinimumOrderAmount, err = readOptDecimal(d)
		case "maximumDiscountAmount":
			rule.MaximumDiscountAmount, err = readOptDecimal(d)
		case "validFrom":
			rule.ValidFrom, err = readOptTime(d)
		case "validUntil":
			rule.ValidUntil, err = readOptTime(d)
		case "usageLimitTotal":
			rule.UsageLimitTotal, err = readOptInt(d)
		case "usageLimitPerUser":
			rule.UsageLimitPerUser, err = readOptInt(d)
		case "usageLimitPerIp":
			rule.UsageLimitPerIP, err = readOptInt(d)
		case "applicability":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				a := &rule.Applicability
				switch key {
				case "all":
					a.All, err = d.Bool()
				case "includeProducts":
					a.IncludeProducts, err = readStrings(d)
				case "includeCategories":
					a.IncludeCategories, err = readStrings(d)
				case "excludeProducts":
					a.ExcludeProducts, err = readStrings(d)
				default:
					err = d.Skip()
				}
				return err
			})
		case "restriction":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "firstTimeOnly":
					rule.Restriction.FirstTimeOnly, err = d.Bool()
				case "emailDomains":
					rule.Restriction.EmailDomains, err = readStrings(d)
				default:
					err = d.Skip()
				}
				return err
			})
		case "priority":
			rule.Priority, err = d.Int()
		case "stackable":
			rule.Stackable, err = d.Bool()
		case "isActive":
			rule.IsActive, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return rule, err
}

func encodeRule(e *jx.Encoder, r *discount.Rule) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("kind")
	e.Str(string(r.Kind))
	e.FieldStart("type")
	e.Str(string(r.Type))
	e.FieldStart("name")
	e.Str(r.Name)
	if r.Description != "" {
		e.FieldStart("description")
		e.Str(r.Description)
	}
	if r.Code != "" {
		e.FieldStart("code")
		e.Str(r.Code)
	}
	if r.EventID != "" {
		e.FieldStart("eventId")
		e.Str(r.EventID)
	}
	e.FieldStart("value")
	e.Str(r.Value.String())
	if r.MinQuantity > 0 {
		e.FieldStart("minQuantity")
		e.Int(r.MinQuantity)
	}
	if len(r.Tiers) > 0 {
		e.FieldStart("tiers")
		e.ArrStart()
		for _, t := range r.Tiers {
			e.ObjStart()
			e.FieldStart("minQuantity")
			e.Int(t.MinQuantity)
			e.FieldStart("minSubtotal")
			e.Str(t.MinSubtotal.String())
			e.FieldStart("percent")
			e.Str(t.Percent.String())
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	writeOptDecimal(e, "minimumOrderAmount", r.MinimumOrderAmount)
	writeOptDecimal(e, "maximumDiscountAmount", r.MaximumDiscountAmount)
	writeOptTime(e, "validFrom", r.ValidFrom)
	writeOptTime(e, "validUntil", r.ValidUntil)
	writeOptInt(e, "usageLimitTotal", r.UsageLimitTotal)
	writeOptInt(e, "usageLimitPerUser", r.UsageLimitPerUser)
	writeOptInt(e, "usageLimitPerIp", r.UsageLimitPerIP)

	e.FieldStart("applicability")
	e.ObjStart()
	e.FieldStart("all")
	e.Bool(r.Applicability.All)
	writeStrings(e, "includeProducts", r.Applicability.IncludeProducts)
	writeStrings(e, "includeCategories", r.Applicability.IncludeCategories)
	writeStrings(e, "excludeProducts", r.Applicability.ExcludeProducts)
	e.ObjEnd()

	e.FieldStart("restriction")
	e.ObjStart()
	e.FieldStart("firstTimeOnly")
	e.Bool(r.Restriction.FirstTimeOnly)
	writeStrings(e, "emailDomains", r.Restriction.EmailDomains)
	e.ObjEnd()

	e.FieldStart("priority")
	e.Int(r.Priority)
	e.FieldStart("stackable")
	e.Bool(r.Stackable)
	e.FieldStart("isActive")
	e.Bool(r.IsActive)
	writeTime(e, "createdAt", r.CreatedAt)
	writeTime(e, "updatedAt", r.UpdatedAt)
	e.ObjEnd()
}

func writeRule(w http.ResponseWriter, status int, r *discount.Rule) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeRule(e, r) })
}

// CreateRule handles POST /api/seller/rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	created, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeRule(w, http.StatusCreated, created)
}

// GetRule handles GET /api/seller/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeRule(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /api/seller/rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	updated, err := h.rules.Update(r.Context(), chi.URLParam(r, "id"), rule)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeRule(w, http.StatusOK, updated)
}

// DeactivateRule handles POST /api/seller/rules/{id}/deactivate.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeRule(w, http.StatusOK, rule)
}
