package marketplace

import (
	"bytes"
	"fmt"
	"strconv"

	gojson "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// amount decodes the money shapes the marketplaces return: a JSON number,
// a numeric string, {"amount": ..} or {"value": ..} objects, and Etsy's
// {"amount": 1250, "divisor": 100}.
type amount struct{ decimal.Decimal }

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}
	switch b[0] {
	case '"':
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		if s == "" {
			a.Decimal = decimal.Zero
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		a.Decimal = d
		return nil
	case '{':
		var obj struct {
			Amount  *amount `json:"amount"` // also matches "Amount"
			Value   *amount `json:"value"`
			Divisor int64   `json:"divisor"`
		}
		if err := gojson.Unmarshal(b, &obj); err != nil {
			return err
		}
		var d decimal.Decimal
		switch {
		case obj.Amount != nil:
			d = obj.Amount.Decimal
		case obj.Value != nil:
			d = obj.Value.Decimal
		}
		if obj.Divisor > 0 {
			d = d.Div(decimal.NewFromInt(obj.Divisor))
		}
		a.Decimal = d
		return nil
	default:
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return fmt.Errorf("amount %s: %w", b, err)
		}
		a.Decimal = d
		return nil
	}
}

// value is the decoded amount, zero for a missing field.
func (a *amount) value() decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return a.Decimal
}

// quantity decodes a count sent as a number or a numeric string.
type quantity int

func (q *quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*q = 0
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		b = []byte(s)
		if len(b) == 0 {
			*q = 0
			return nil
		}
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("quantity %s: %w", b, err)
	}
	*q = quantity(d.IntPart())
	return nil
}

// flexID decodes an identifier sent as a number or a string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(b)
	return nil
}

// unitPrice splits a line total across quantity; a zero quantity yields the total.
func unitPrice(total decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return total
	}
	return total.Div(decimal.NewFromInt(int64(qty))).Round(2)
}
