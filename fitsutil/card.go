package fitsutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	cardSize  = 80
	blockSize = 2880
)

// Card is a single keyword record of a FITS header.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// FormatCard renders c as an 80 character fixed-format card image.
func FormatCard(c Card) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(c.Key))
	if key == "" || len(key) > 8 {
		return "", Error.New("invalid keyword %q", c.Key)
	}

	var value string
	switch v := c.Value.(type) {
	case nil:
		value = ""
	case string:
		quoted := "'" + strings.ReplaceAll(v, "'", "''")
		for len(quoted) < 9 {
			quoted += " "
		}
		value = quoted + "'"
	case bool:
		value = fmt.Sprintf("%20s", boolValue(v))
	case int:
		value = fmt.Sprintf("%20d", v)
	case int64:
		value = fmt.Sprintf("%20d", v)
	case float64:
		s, err := formatFloat(v)
		if err != nil {
			return "", err
		}
		value = fmt.Sprintf("%20s", s)
	case float32:
		s, err := formatFloat(float64(v))
		if err != nil {
			return "", err
		}
		value = fmt.Sprintf("%20s", s)
	default:
		return "", Error.New("unsupported value type %T for %s", c.Value, key)
	}

	card := fmt.Sprintf("%-8s= %s", key, value)
	if len(card) > cardSize {
		return "", Error.New("value of %s does not fit into a single card", key)
	}
	if c.Comment != "" {
		card += " / " + c.Comment
	}
	if len(card) > cardSize {
		card = card[:cardSize]
	}
	return fmt.Sprintf("%-80s", card), nil
}

func boolValue(b bool) string {
	if b {
		return "T"
	}
	return "F"
}

func formatFloat(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", Error.New("cannot encode %v in a header card", v)
	}
	s := strconv.FormatFloat(v, 'G', -1, 64)
	if !strings.ContainsAny(s, ".E") {
		s += ".0"
	}
	return s, nil
}

// cardKeyword extracts the keyword of a raw card image.
func cardKeyword(raw []byte) string {
	if len(raw) < 8 {
		return strings.TrimSpace(string(raw))
	}
	return strings.TrimSpace(string(raw[:8]))
}

// cardInt parses the integer value of a raw structural card.
func cardInt(raw []byte) (int, error) {
	if len(raw) < 10 || string(raw[8:10]) != "= " {
		return 0, Error.New("card %q has no value indicator", cardKeyword(raw))
	}
	field := string(raw[10:])
	if i := strings.IndexByte(field, '/'); i >= 0 {
		field = field[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return 0, Error.New("card %q: %v", cardKeyword(raw), err)
	}
	return n, nil
}
