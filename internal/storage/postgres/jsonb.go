package postgres

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/domain/checkout"
	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

// JSONB columns are written and read with jx so that decimals keep their
// exact string form.

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func encodeTiers(tiers []discount.Tier) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, t := range tiers {
		e.ObjStart()
		e.FieldStart("min_quantity")
		e.Int(t.MinQuantity)
		e.FieldStart("min_subtotal")
		e.Str(t.MinSubtotal.String())
		e.FieldStart("percent")
		e.Str(t.Percent.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeTiers(data []byte) ([]discount.Tier, error) {
	var tiers []discount.Tier
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var t discount.Tier
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "min_quantity":
				t.MinQuantity, err = d.Int()
			case "min_subtotal":
				t.MinSubtotal, err = decodeDecimal(d)
			case "percent":
				t.Percent, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		tiers = append(tiers, t)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode tiers")
	}
	return tiers, nil
}

func encodeClaims(claims []usage.Claim) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, c := range claims {
		e.ObjStart()
		e.FieldStart("rule_id")
		e.Str(c.RuleID)
		e.FieldStart("customer_id")
		e.Str(c.CustomerID)
		e.FieldStart("ip")
		e.Str(c.IP)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeClaims(data []byte) ([]usage.Claim, error) {
	var claims []usage.Claim
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var c usage.Claim
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "rule_id":
				c.RuleID, err = d.Str()
			case "customer_id":
				c.CustomerID, err = d.Str()
			case "ip":
				c.IP, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		claims = append(claims, c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode claims")
	}
	return claims, nil
}

func encodeItems(items []checkout.Item) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeItems(data []byte) ([]checkout.Item, error) {
	var items []checkout.Item
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var it checkout.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "product_id":
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
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return items, nil
}

func encodeApplied(applied []checkout.AppliedDiscount) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, a := range applied {
		e.ObjStart()
		e.FieldStart("rule_id")
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
		e.FieldStart("amount")
		e.Str(a.Amount.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeApplied(data []byte) ([]checkout.AppliedDiscount, error) {
	var applied []checkout.AppliedDiscount
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var a checkout.AppliedDiscount
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var (
				s   string
				err error
			)
			switch key {
			case "rule_id":
				a.RuleID, err = d.Str()
			case "kind":
				s, err = d.Str()
				a.Kind = discount.Kind(s)
			case "type":
				s, err = d.Str()
				a.Type = discount.Type(s)
			case "name":
				a.Name, err = d.Str()
			case "code":
				a.Code, err = d.Str()
			case "amount":
				a.Amount, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		applied = append(applied, a)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode applied discounts")
	}
	return applied, nil
}
