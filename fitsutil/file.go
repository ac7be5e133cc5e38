package fitsutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/astrogo/fitsio"
)

// HDU is one header/data unit of a decoded file.
type HDU struct {
	Name   string
	Header *Header
}

// File is a decoded FITS container. the encoded bytes are kept so that the
// file can be written back out unchanged apart from explicit card edits.
type File struct {
	raw     []byte
	hdus    []HDU
	extents []extent
}

// Decode parses data as a FITS file.
func Decode(data []byte) (*File, error) {
	extents, err := scan(data)
	if err != nil {
		return nil, err
	}

	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer f.Close()

	decoded := f.HDUs()
	if len(decoded) != len(extents) {
		return nil, Error.New("found %d units but decoded %d", len(extents), len(decoded))
	}

	hdus := make([]HDU, 0, len(decoded))
	for i, hdu := range decoded {
		hdr := headerFrom(hdu.Header())
		hdus = append(hdus, HDU{Name: hduName(hdr, i), Header: hdr})
	}

	return &File{raw: append([]byte(nil), data...), hdus: hdus, extents: extents}, nil
}

func headerFrom(src *fitsio.Header) *Header {
	h := NewHeader()
	for _, key := range src.Keys() {
		card := src.Get(key)
		if card == nil {
			continue
		}
		value := any(card.Value)
		if s, ok := value.(string); ok {
			value = strings.TrimRight(s, " ")
		}
		h.Set(card.Name, value, card.Comment)
	}
	if !h.Has("NAXIS") {
		axes := src.Axes()
		h.Set("NAXIS", len(axes), "")
		for i, n := range axes {
			h.Set(fmt.Sprintf("NAXIS%d", i+1), n, "")
		}
	}
	return h
}

func hduName(h *Header, index int) string {
	if name, ok := h.String("EXTNAME"); ok && name != "" {
		return strings.TrimSpace(name)
	}
	if index == 0 {
		return "PRIMARY"
	}
	return ""
}

// HDUs returns the units in file order.
func (f *File) HDUs() []HDU {
	return append([]HDU(nil), f.hdus...)
}

// HDU returns the unit whose EXTNAME matches name (case-insensitive).
func (f *File) HDU(name string) (HDU, error) {
	i := f.find(name)
	if i < 0 {
		return HDU{}, ErrNoSuchHDU.New("%s", name)
	}
	return f.hdus[i], nil
}

func (f *File) find(name string) int {
	for i, hdu := range f.hdus {
		if strings.EqualFold(hdu.Name, name) {
			return i
		}
	}
	return -1
}

// SetCard writes card into the header of the named unit, replacing an
// existing card with the same keyword. data units are left byte-identical.
func (f *File) SetCard(hduName string, card Card) error {
	i := f.find(hduName)
	if i < 0 {
		return ErrNoSuchHDU.New("%s", hduName)
	}
	image, err := FormatCard(card)
	if err != nil {
		return err
	}

	ext := f.extents[i]
	key := strings.ToUpper(card.Key)
	for pos := ext.headerStart; pos < ext.endCard; pos += cardSize {
		if cardKeyword(f.raw[pos:pos+cardSize]) == key {
			copy(f.raw[pos:pos+cardSize], image)
			f.hdus[i].Header.Set(key, card.Value, card.Comment)
			return nil
		}
	}

	// insert before END and re-pad the header to whole blocks
	hdr := make([]byte, 0, ext.headerEnd-ext.headerStart+blockSize)
	hdr = append(hdr, f.raw[ext.headerStart:ext.endCard]...)
	hdr = append(hdr, image...)
	hdr = append(hdr, f.raw[ext.endCard:ext.endCard+cardSize]...)
	for len(hdr)%blockSize != 0 {
		hdr = append(hdr, ' ')
	}

	raw := make([]byte, 0, len(f.raw)+blockSize)
	raw = append(raw, f.raw[:ext.headerStart]...)
	raw = append(raw, hdr...)
	raw = append(raw, f.raw[ext.headerEnd:]...)

	extents, err := scan(raw)
	if err != nil {
		return err
	}
	f.raw, f.extents = raw, extents
	f.hdus[i].Header.Set(key, card.Value, card.Comment)
	return nil
}

// Bytes returns the encoded file including any card edits.
func (f *File) Bytes() []byte {
	return append([]byte(nil), f.raw...)
}
