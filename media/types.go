package media

import (
	"path"
	"strings"
)

// FileExtension is appended to every basename in the archive.
const FileExtension = ".fits.fz"

// FramePath returns the archive-relative location of a frame's file.
func FramePath(dir, basename string) string {
	return path.Join(strings.Trim(path.Clean("/"+dir), "/"), FrameFilename(basename))
}

// FrameFilename returns the stored file name for basename.
func FrameFilename(basename string) string {
	return basename + FileExtension
}
