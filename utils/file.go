package utils

import (
	"path"
	"strings"
)

var supportedFitsExtensions = []string{".fits", ".fit", ".fts", ".fits.fz", ".fits.gz"}

// IsFitsFile checks if the filename has a common FITS extension.
func IsFitsFile(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range supportedFitsExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// BasenameFromUpload strips any directory and everything from the first "." of an uploaded name.
func BasenameFromUpload(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}
