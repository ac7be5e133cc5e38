// Package fitstest assembles small FITS files for tests.
package fitstest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/camden-git/framearchive/fitsutil"
)

const blockSize = 2880

// Column is a float64 column of a binary table.
type Column struct {
	Name   string
	Values []float64
}

// Builder appends header/data units to an in-memory file.
type Builder struct {
	buf bytes.Buffer
	err error
}

// New starts a file with an empty primary unit.
func New() *Builder {
	b := &Builder{}
	b.unit([]fitsutil.Card{
		{Key: "SIMPLE", Value: true},
		{Key: "BITPIX", Value: 8},
		{Key: "NAXIS", Value: 0},
		{Key: "EXTEND", Value: true},
	}, nil)
	return b
}

// Image appends a 16 bit image extension of width x height zero pixels.
func (b *Builder) Image(name string, width, height int, cards ...fitsutil.Card) *Builder {
	hdr := []fitsutil.Card{
		{Key: "XTENSION", Value: "IMAGE"},
		{Key: "BITPIX", Value: 16},
		{Key: "NAXIS", Value: 2},
		{Key: "NAXIS1", Value: width},
		{Key: "NAXIS2", Value: height},
		{Key: "PCOUNT", Value: 0},
		{Key: "GCOUNT", Value: 1},
		{Key: "EXTNAME", Value: name},
	}
	b.unit(append(hdr, cards...), make([]byte, width*height*2))
	return b
}

// Table appends a binary table extension of float64 columns. all columns
// must have the same number of values.
func (b *Builder) Table(name string, cols ...Column) *Builder {
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0].Values)
	}
	hdr := []fitsutil.Card{
		{Key: "XTENSION", Value: "BINTABLE"},
		{Key: "BITPIX", Value: 8},
		{Key: "NAXIS", Value: 2},
		{Key: "NAXIS1", Value: 8 * len(cols)},
		{Key: "NAXIS2", Value: rows},
		{Key: "PCOUNT", Value: 0},
		{Key: "GCOUNT", Value: 1},
		{Key: "TFIELDS", Value: len(cols)},
	}
	for i, col := range cols {
		n := itoa(i + 1)
		hdr = append(hdr,
			fitsutil.Card{Key: "TTYPE" + n, Value: col.Name},
			fitsutil.Card{Key: "TFORM" + n, Value: "D"},
		)
	}
	hdr = append(hdr, fitsutil.Card{Key: "EXTNAME", Value: name})

	data := make([]byte, 0, 8*len(cols)*rows)
	for r := 0; r < rows; r++ {
		for _, col := range cols {
			data = binary.BigEndian.AppendUint64(data, math.Float64bits(col.Values[r]))
		}
	}
	b.unit(hdr, data)
	return b
}

func (b *Builder) unit(cards []fitsutil.Card, data []byte) {
	if b.err != nil {
		return
	}
	start := b.buf.Len()
	for _, c := range cards {
		image, err := fitsutil.FormatCard(c)
		if err != nil {
			b.err = err
			return
		}
		b.buf.WriteString(image)
	}
	b.buf.WriteString("END")
	for (b.buf.Len()-start)%blockSize != 0 {
		b.buf.WriteByte(' ')
	}
	b.buf.Write(data)
	for b.buf.Len()%blockSize != 0 {
		b.buf.WriteByte(0)
	}
}

// Bytes returns the assembled file. it panics if a card could not be encoded.
func (b *Builder) Bytes() []byte {
	if b.err != nil {
		panic(b.err)
	}
	return append([]byte(nil), b.buf.Bytes()...)
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}
