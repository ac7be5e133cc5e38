package fitsutil

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Header is an ordered set of cards with case-insensitive keyword lookup.
type Header struct {
	cards []Card
	index map[string]int
}

// NewHeader returns a header holding cards in order. later duplicates win.
func NewHeader(cards ...Card) *Header {
	h := &Header{index: make(map[string]int, len(cards))}
	for _, c := range cards {
		h.Set(c.Key, c.Value, c.Comment)
	}
	return h
}

func normKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Lookup returns the raw value of key.
func (h *Header) Lookup(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	i, ok := h.index[normKey(key)]
	if !ok {
		return nil, false
	}
	return h.cards[i].Value, true
}

func (h *Header) Has(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

// Set updates an existing card in place or appends a new one.
func (h *Header) Set(key string, value any, comment string) {
	k := normKey(key)
	if i, ok := h.index[k]; ok {
		h.cards[i].Value = value
		if comment != "" {
			h.cards[i].Comment = comment
		}
		return
	}
	h.index[k] = len(h.cards)
	h.cards = append(h.cards, Card{Key: k, Value: value, Comment: comment})
}

// Append adds a card after the existing ones even when key is already
// present. Lookup then returns the newest value.
func (h *Header) Append(key string, value any, comment string) {
	k := normKey(key)
	h.index[k] = len(h.cards)
	h.cards = append(h.cards, Card{Key: k, Value: value, Comment: comment})
}

// put keeps every COMMENT and HISTORY card and collapses other repeats.
func (h *Header) put(c Card) {
	switch normKey(c.Key) {
	case "COMMENT", "HISTORY":
		h.Append(c.Key, c.Value, c.Comment)
	default:
		h.Set(c.Key, c.Value, c.Comment)
	}
}

// Keys returns keywords in header order.
func (h *Header) Keys() []string {
	keys := make([]string, 0, len(h.cards))
	for _, c := range h.cards {
		keys = append(keys, c.Key)
	}
	return keys
}

// Cards returns a copy of the cards in header order.
func (h *Header) Cards() []Card {
	return append([]Card(nil), h.cards...)
}

// String returns the value of key rendered as text.
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Lookup(key)
	if !ok || v == nil {
		return "", false
	}
	return ValueString(v), true
}

// Float returns the value of key as float64. strings holding numbers are accepted.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Lookup(key)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Int returns the value of key as int. integral floats are accepted.
func (h *Header) Int(key string) (int, bool) {
	v, ok := h.Lookup(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case *big.Int:
		if n.IsInt64() {
			return int(n.Int64()), true
		}
		return 0, false
	}
	f, ok := ToFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// ToFloat converts a numeric header value, or a string holding a number, to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ValueString renders a header value the way it reads in a card, without quotes.
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimRight(x, " ")
	case bool:
		return boolValue(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return floatString(x)
	case float32:
		return floatString(float64(x))
	case *big.Int:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// floatString keeps a trailing ".0" on integral values so 2.0 does not read as 2.
func floatString(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.Abs(f) >= 1e16 {
		s = strconv.FormatFloat(f, 'g', -1, 64)
	}
	if !strings.ContainsAny(s, ".eEN") {
		s += ".0"
	}
	return s
}
