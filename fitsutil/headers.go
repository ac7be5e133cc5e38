package fitsutil

import (
	"math/big"
	"strconv"
	"strings"
)

// ReadHeaders parses only the headers of every unit in data. unlike Decode it
// does not interpret data units, so tile-compressed images are accepted; their
// headers are presented as the uncompressed image they describe. COMMENT and
// HISTORY cards are kept in order; other repeated keywords keep the last value.
func ReadHeaders(data []byte) ([]HDU, error) {
	extents, err := scan(data)
	if err != nil {
		return nil, err
	}

	hdus := make([]HDU, 0, len(extents))
	for i, ext := range extents {
		h := NewHeader()
		for pos := ext.headerStart; pos < ext.endCard; pos += cardSize {
			if c, ok := parseCard(data[pos : pos+cardSize]); ok {
				h.put(c)
			}
		}
		if isCompressedImage(h) {
			h = uncompressedView(h)
		}
		hdus = append(hdus, HDU{Name: hduName(h, i), Header: h})
	}
	return hdus, nil
}

// parseCard reads a keyword card. commentary and blank cards are returned with
// their text as value; ok is false for cards without a keyword.
func parseCard(raw []byte) (Card, bool) {
	key := cardKeyword(raw)
	if key == "" {
		return Card{}, false
	}
	if len(raw) < 10 || string(raw[8:10]) != "= " {
		return Card{Key: key, Value: strings.TrimRight(string(raw[8:]), " ")}, true
	}

	field := string(raw[10:])
	trimmed := strings.TrimLeft(field, " ")
	if strings.HasPrefix(trimmed, "'") {
		s, rest := parseQuoted(trimmed[1:])
		return Card{Key: key, Value: strings.TrimRight(s, " "), Comment: cardComment(rest)}, true
	}

	value, comment := field, ""
	if i := strings.IndexByte(field, '/'); i >= 0 {
		value, comment = field[:i], field[i+1:]
	}
	return Card{Key: key, Value: parseValue(strings.TrimSpace(value)), Comment: strings.TrimSpace(comment)}, true
}

func parseQuoted(s string) (value, rest string) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\'' {
			sb.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			sb.WriteByte('\'')
			i++
			continue
		}
		return sb.String(), s[i+1:]
	}
	return sb.String(), ""
}

func cardComment(rest string) string {
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return strings.TrimSpace(rest[i+1:])
	}
	return ""
}

func parseValue(s string) any {
	switch s {
	case "":
		return nil
	case "T":
		return true
	case "F":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n
	}
	if f, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(s), 64); err == nil {
		return f
	}
	return s
}

func isCompressedImage(h *Header) bool {
	v, ok := h.Lookup("ZIMAGE")
	b, isBool := v.(bool)
	return ok && isBool && b
}

var compressionKeys = map[string]bool{
	"ZIMAGE": true, "ZCMPTYPE": true, "ZBITPIX": true, "ZNAXIS": true, "ZTILE1": true, "ZTILE2": true,
	"ZNAME1": true, "ZVAL1": true, "ZNAME2": true, "ZVAL2": true, "ZQUANTIZ": true, "ZDITHER0": true,
	"ZSIMPLE": true, "ZTENSION": true, "ZEXTEND": true, "ZPCOUNT": true, "ZGCOUNT": true, "ZHECKSUM": true,
	"ZDATASUM": true, "TFIELDS": true, "THEAP": true,
}

// uncompressedView rewrites the binary table header of a tile-compressed image
// into the header of the image it holds.
func uncompressedView(h *Header) *Header {
	out := NewHeader()
	out.Set("XTENSION", "IMAGE", "")
	if v, ok := h.Lookup("ZBITPIX"); ok {
		out.Set("BITPIX", v, "")
	}
	naxis, _ := h.Int("ZNAXIS")
	out.Set("NAXIS", naxis, "")
	for i := 1; i <= naxis; i++ {
		if v, ok := h.Lookup("ZNAXIS" + strconv.Itoa(i)); ok {
			out.Set("NAXIS"+strconv.Itoa(i), v, "")
		}
	}
	out.Set("PCOUNT", 0, "")
	out.Set("GCOUNT", 1, "")

	for _, c := range h.Cards() {
		key := c.Key
		switch {
		case compressionKeys[key], key == "XTENSION", key == "BITPIX", key == "PCOUNT", key == "GCOUNT",
			strings.HasPrefix(key, "NAXIS"), strings.HasPrefix(key, "ZNAXIS"), strings.HasPrefix(key, "ZTILE"),
			strings.HasPrefix(key, "TTYPE"), strings.HasPrefix(key, "TFORM"), strings.HasPrefix(key, "TUNIT"):
			continue
		}
		out.put(c)
	}
	return out
}
