package fitsutil

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// WriteTableCSV writes the binary table stored in the unit named hduName as
// comma separated values, column names first. ErrNoSuchHDU is returned when
// the file has no such unit.
func WriteTableCSV(data []byte, hduName string, w io.Writer) error {
	unit, err := standalone(data, hduName)
	if err != nil {
		return err
	}

	f, err := fitsio.Open(bytes.NewReader(unit))
	if err != nil {
		return Error.Wrap(err)
	}
	defer f.Close()

	hdus := f.HDUs()
	if len(hdus) < 2 {
		return Error.New("unit %s could not be read", hduName)
	}
	table, ok := hdus[1].(*fitsio.Table)
	if !ok {
		return Error.New("unit %s is not a table", hduName)
	}

	cols := table.Cols()
	out := csv.NewWriter(w)

	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	if err := out.Write(names); err != nil {
		return Error.Wrap(err)
	}

	rows, err := table.Read(0, table.NumRows())
	if err != nil {
		return Error.Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		ptrs := make([]any, len(cols))
		for i := range cols {
			ptrs[i] = reflect.New(cols[i].Type()).Interface()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Error.Wrap(err)
		}
		record := make([]string, len(cols))
		for i, p := range ptrs {
			record[i] = cellString(reflect.ValueOf(p).Elem())
		}
		if err := out.Write(record); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := rows.Err(); err != nil {
		return Error.Wrap(err)
	}

	out.Flush()
	return Error.Wrap(out.Error())
}

// standalone copies the named extension behind an empty primary unit, so it
// can be read without interpreting any other unit of the file.
func standalone(data []byte, hduName string) ([]byte, error) {
	extents, err := scan(data)
	if err != nil {
		return nil, err
	}
	hdus, err := ReadHeaders(data)
	if err != nil {
		return nil, err
	}
	for i, hdu := range hdus {
		if i == 0 || !strings.EqualFold(hdu.Name, hduName) {
			continue
		}
		ext := extents[i]
		out := append([]byte(nil), emptyPrimary()...)
		return append(out, data[ext.headerStart:ext.dataEnd]...), nil
	}
	return nil, ErrNoSuchHDU.New("%s", hduName)
}

func emptyPrimary() []byte {
	var sb strings.Builder
	for _, c := range []Card{
		{Key: "SIMPLE", Value: true},
		{Key: "BITPIX", Value: 8},
		{Key: "NAXIS", Value: 0},
		{Key: "EXTEND", Value: true},
	} {
		image, _ := FormatCard(c)
		sb.WriteString(image)
	}
	sb.WriteString(fmt.Sprintf("%-80s", "END"))
	for sb.Len()%blockSize != 0 {
		sb.WriteByte(' ')
	}
	return []byte(sb.String())
}

func cellString(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.String:
		return strings.TrimRight(v.String(), " \x00")
	case reflect.Slice, reflect.Array:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = cellString(v.Index(i))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v.Interface())
	}
}
