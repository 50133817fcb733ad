package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// badRequestError marks malformed input that never reached a service.
type badRequestError struct {
	msg string
	err error
}

func (e *badRequestError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &badRequestError{msg: msg, err: err}
}

// decodeObject reads the request body as a JSON object, calling fn per field.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("read body", err)
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		return badRequest("invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// Decimals are accepted as JSON strings or numbers and always written as
// strings.

func readDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.New("expected decimal")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse decimal %q", raw)
	}
	return v, nil
}

func readOptDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := readDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readOptInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

func readOptTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	t, err := readTime(d)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func readStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func writeMoney(e *jx.Encoder, field string, d decimal.Decimal) {
	e.FieldStart(field)
	e.Str(d.StringFixed(2))
}

func writeOptDecimal(e *jx.Encoder, field string, d *decimal.Decimal) {
	if d == nil {
		return
	}
	e.FieldStart(field)
	e.Str(d.String())
}

func writeOptInt(e *jx.Encoder, field string, v *int) {
	if v == nil {
		return
	}
	e.FieldStart(field)
	e.Int(*v)
}

func writeTime(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func writeOptTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	writeTime(e, field, *t)
}

func writeStrings(e *jx.Encoder, field string, values []string) {
	e.FieldStart(field)
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}
