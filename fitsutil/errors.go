// Package fitsutil reads FITS containers, edits header cards without
// disturbing the encoded data, and exports binary tables.
package fitsutil

import "github.com/zeebo/errs"

var (
	// Error wraps structural decoding and encoding failures.
	Error = errs.Class("fits")

	// ErrNoSuchHDU is returned when a named extension is absent.
	ErrNoSuchHDU = errs.Class("fits: no such hdu")
)
