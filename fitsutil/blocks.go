package fitsutil

import "fmt"

// extent records byte offsets of one header/data unit.
type extent struct {
	headerStart int
	endCard     int // offset of the END card
	headerEnd   int // first byte after the padded header
	dataEnd     int // first byte after the padded data
}

func padded(n int) int {
	if r := n % blockSize; r != 0 {
		return n + blockSize - r
	}
	return n
}

// scan walks the block structure of raw without interpreting values beyond
// what is needed to size the data units.
func scan(raw []byte) ([]extent, error) {
	if len(raw) == 0 {
		return nil, Error.New("empty file")
	}
	if len(raw)%blockSize != 0 {
		return nil, Error.New("size %d is not a multiple of %d", len(raw), blockSize)
	}

	var extents []extent
	for off := 0; off < len(raw); {
		ext := extent{headerStart: off, endCard: -1}
		var (
			bitpix, naxis int
			pcount        = 0
			gcount        = 1
			axes          = map[int]int{}
		)

		for pos := off; pos+cardSize <= len(raw); pos += cardSize {
			card := raw[pos : pos+cardSize]
			kw := cardKeyword(card)
			if kw == "END" {
				ext.endCard = pos
				break
			}
			if pos == off && len(extents) == 0 && kw != "SIMPLE" {
				return nil, Error.New("primary header does not start with SIMPLE")
			}

			var err error
			switch {
			case kw == "BITPIX":
				bitpix, err = cardInt(card)
			case kw == "NAXIS":
				naxis, err = cardInt(card)
			case kw == "PCOUNT":
				pcount, err = cardInt(card)
			case kw == "GCOUNT":
				gcount, err = cardInt(card)
			case len(kw) > 5 && kw[:5] == "NAXIS":
				var n, i int
				if _, scanErr := fmt.Sscanf(kw[5:], "%d", &i); scanErr == nil {
					n, err = cardInt(card)
					axes[i] = n
				}
			}
			if err != nil {
				return nil, err
			}
		}
		if ext.endCard < 0 {
			return nil, Error.New("header at offset %d has no END card", off)
		}
		if bitpix == 0 {
			return nil, Error.New("header at offset %d has no BITPIX", off)
		}

		if naxis < 0 || naxis > 999 || pcount < 0 || gcount < 1 {
			return nil, Error.New("header at offset %d has invalid NAXIS, PCOUNT or GCOUNT", off)
		}

		ext.headerEnd = off + padded(ext.endCard+cardSize-off)

		// the size product saturates just above the bytes left in the file
		limit := len(raw) - ext.headerEnd
		size := 0
		if naxis > 0 {
			size = 1
			for i := 1; i <= naxis; i++ {
				if axes[i] < 0 {
					return nil, Error.New("header at offset %d has negative NAXIS%d", off, i)
				}
				size = boundedMul(size, axes[i], limit)
			}
		}
		abs := bitpix
		if abs < 0 {
			abs = -abs
		}
		size = boundedMul(abs/8, boundedMul(gcount, boundedAdd(pcount, size, limit), limit), limit)

		if size > limit {
			return nil, Error.New("data unit at offset %d is truncated", ext.headerEnd)
		}
		ext.dataEnd = ext.headerEnd + padded(size)
		if ext.dataEnd > len(raw) || ext.dataEnd < ext.headerEnd {
			return nil, Error.New("data unit at offset %d is truncated", ext.headerEnd)
		}
		extents = append(extents, ext)
		off = ext.dataEnd
	}
	return extents, nil
}

// boundedMul returns a*b for non-negative operands, or limit+1 once the
// product exceeds limit.
func boundedMul(a, b, limit int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > limit || b > limit || a > limit/b {
		return limit + 1
	}
	return a * b
}

func boundedAdd(a, b, limit int) int {
	if a > limit || b > limit || a+b > limit {
		return limit + 1
	}
	return a + b
}
