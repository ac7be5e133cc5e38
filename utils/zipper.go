package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/camden-git/framearchive/logging"
)

// ZipEntry is one archived file to pack into a download.
type ZipEntry struct {
	// Name is the file name inside the archive folder.
	Name string
	// Path is the absolute path of the file on disk.
	Path string
}

// ArchiveName returns the download name for an archive created at t, e.g. "framedata-20240305".
func ArchiveName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.Format("20060102"))
}

// WriteFrameZip streams entries into a ZIP archive on w, every file placed in folder.
// files that cannot be opened are skipped. returns the number of files written.
func WriteFrameZip(w io.Writer, folder string, entries []ZipEntry) (int, error) {
	zipWriter := zip.NewWriter(w)

	written := 0
	for _, entry := range entries {
		src, err := os.Open(entry.Path)
		if err != nil {
			logging.Warn().Err(err).Str("path", entry.Path).Msg("zipper: failed to open file, skipping")
			continue
		}

		header := &zip.FileHeader{
			Name:   path.Join(folder, entry.Name),
			Method: zip.Store,
		}
		if info, err := src.Stat(); err == nil {
			header.Modified = info.ModTime()
		}

		dst, err := zipWriter.CreateHeader(header)
		if err != nil {
			src.Close()
			return written, fmt.Errorf("failed to create zip entry %s: %w", entry.Name, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return written, fmt.Errorf("failed to write %s to zip: %w", entry.Name, err)
		}
		written++
	}

	if err := zipWriter.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize zip writer: %w", err)
	}
	return written, nil
}
