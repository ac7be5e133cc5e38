package services

import (
	"github.com/zeebo/errs"

	"github.com/camden-git/framearchive/media"
	"github.com/camden-git/framearchive/utils"
)

var (
	// ErrConfig marks a deployment problem such as a missing path template.
	ErrConfig = errs.Class("configuration")
	// ErrMalformed marks an upload that is not a usable frame.
	ErrMalformed = errs.Class("malformed frame")
	// ErrCompress marks a failure of the external compressor.
	ErrCompress = errs.Class("compression")
	// ErrStorage marks a failure writing or removing archive files.
	ErrStorage = errs.Class("storage")
	// ErrNotFound marks a missing frame record or file.
	ErrNotFound = errs.Class("not found")
)

// failureReason classifies err for metrics.
func failureReason(err error) string {
	switch {
	case ErrConfig.Has(err):
		return "config"
	case ErrMalformed.Has(err):
		return "malformed"
	case ErrCompress.Has(err):
		return "compress"
	case ErrStorage.Has(err):
		return "storage"
	default:
		return "other"
	}
}

// formatError sorts a formatter failure into configuration or input problems.
func formatError(what string, err error) error {
	if utils.ErrUnknownFunction.Has(err) {
		return ErrConfig.New("%s template: %v", what, err)
	}
	return ErrMalformed.New("cannot build %s: %v", what, err)
}

// compressError wraps a compressor failure.
func compressError(err error) error {
	if media.ErrCompressor.Has(err) {
		return ErrCompress.Wrap(err)
	}
	return ErrCompress.New("%v", err)
}
