package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/framearchive/logging"
)

// Store defines the interface for saving, retrieving, and deleting archived files
type Store interface {
	// Save writes data to filename inside relativeDir, creating the directory
	// as needed. returns the relative path of the stored file
	Save(relativeDir string, filename string, data io.Reader) (string, error)
	// Open retrieves a reader for a stored file
	Open(relativePath string) (*os.File, os.FileInfo, error)
	// Exists reports whether a stored file is present
	Exists(relativePath string) (bool, error)
	// Delete removes a stored file. a missing file is not an error
	Delete(relativePath string) error
	// GetFullPath returns the absolute filesystem path for a relative path
	GetFullPath(relativePath string) (string, error)
	// EnsureDir makes sure a directory below the root exists
	EnsureDir(relativeDir string) (string, error)
}

// ArchiveStore implements the Store interface on the local filesystem below the archive root
type ArchiveStore struct {
	basePath string // absolute path to ARCHIVE_ROOT
}

// NewArchiveStore creates a new local filesystem store rooted at basePath
func NewArchiveStore(basePath string) (*ArchiveStore, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid archive root '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root '%s': %w", absBasePath, err)
	}

	logging.Info().Str("root", absBasePath).Msg("media.store: initialized archive store")
	return &ArchiveStore{basePath: absBasePath}, nil
}

// Root returns the absolute archive root.
func (s *ArchiveStore) Root() string {
	return s.basePath
}

// EnsureDir creates the directory if it doesn't exist
func (s *ArchiveStore) EnsureDir(relativeDir string) (string, error) {
	dirPath, err := s.GetFullPath(relativeDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to ensure directory '%s': %w", dirPath, err)
	}
	return dirPath, nil
}

// Save writes data through a temporary file that is renamed into place, so a
// failed write never leaves a partial file under the final name.
func (s *ArchiveStore) Save(relativeDir string, filename string, data io.Reader) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("invalid filename '%s'", filename)
	}
	targetDir, err := s.EnsureDir(relativeDir)
	if err != nil {
		return "", err
	}
	fullSavePath := filepath.Join(targetDir, filename)

	tmp, err := os.CreateTemp(targetDir, "."+filename+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file in '%s': %w", targetDir, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write data to '%s': %w", fullSavePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close '%s': %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to set mode of '%s': %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, fullSavePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move file into place at '%s': %w", fullSavePath, err)
	}

	relativePath, err := filepath.Rel(s.basePath, fullSavePath)
	if err != nil {
		return "", fmt.Errorf("internal error calculating relative path: %w", err)
	}

	logging.Debug().Str("path", fullSavePath).Msg("media.store: saved file")
	return filepath.ToSlash(relativePath), nil
}

func (s *ArchiveStore) Open(relativePath string) (*os.File, os.FileInfo, error) {
	fullPath, err := s.GetFullPath(relativePath)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("file not found at '%s': %w", relativePath, err)
		}
		return nil, nil, fmt.Errorf("failed to open file '%s': %w", relativePath, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat file '%s': %w", relativePath, err)
	}

	return file, info, nil
}

func (s *ArchiveStore) Exists(relativePath string) (bool, error) {
	fullPath, err := s.GetFullPath(relativePath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file '%s': %w", relativePath, err)
	}
	return !info.IsDir(), nil
}

// Delete removes a stored file
func (s *ArchiveStore) Delete(relativePath string) error {
	fullPath, err := s.GetFullPath(relativePath)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file '%s': %w", relativePath, err)
	}
	if err == nil {
		logging.Info().Str("path", fullPath).Msg("media.store: deleted file")
	}
	return nil
}

// GetFullPath calculates the absolute path and rejects paths leaving the archive root
func (s *ArchiveStore) GetFullPath(relativePath string) (string, error) {
	fullPath := filepath.Join(s.basePath, filepath.Clean(filepath.FromSlash(relativePath)))

	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", relativePath, err)
	}

	if absFullPath != s.basePath && !strings.HasPrefix(absFullPath, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied for '%s'", relativePath)
	}

	return absFullPath, nil
}
