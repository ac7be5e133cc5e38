package services

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"

	"gorm.io/gorm"

	"github.com/camden-git/framearchive/fitsutil"
	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/media"
	"github.com/camden-git/framearchive/metrics"
	"github.com/camden-git/framearchive/models"
	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/repository"
	"github.com/camden-git/framearchive/utils"
)

// CatalogHDU is the unit holding the source catalog of a frame.
const CatalogHDU = "CAT"

// ArchiveService reads and removes archived frames.
type ArchiveService struct {
	frames    repository.FrameRepositoryInterface
	store     media.Store
	publisher realtime.Publisher
}

// NewArchiveService creates a new archive service
func NewArchiveService(frames repository.FrameRepositoryInterface, store media.Store, publisher realtime.Publisher) *ArchiveService {
	if publisher == nil {
		publisher = realtime.Discard
	}
	return &ArchiveService{frames: frames, store: store, publisher: publisher}
}

// HeaderEntry is one keyword of a stored header.
type HeaderEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FilePath returns the archive-relative path of the frame's file.
func FilePath(frame *models.Frame) string {
	return media.FramePath(frame.Path, frame.Basename)
}

// Get returns the frame with its related frames.
func (s *ArchiveService) Get(ctx context.Context, id uint) (*models.Frame, error) {
	frame, err := s.frames.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound.New("frame %d", id)
	}
	return frame, err
}

// Open returns the frame and its stored file. the caller closes the file.
func (s *ArchiveService) Open(ctx context.Context, id uint) (*models.Frame, *os.File, os.FileInfo, error) {
	frame, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	f, info, err := s.store.Open(FilePath(frame))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil, ErrNotFound.New("file of frame %s", frame.Basename)
		}
		return nil, nil, nil, ErrStorage.Wrap(err)
	}
	return frame, f, info, nil
}

func (s *ArchiveService) readFile(ctx context.Context, id uint) ([]byte, error) {
	_, f, _, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ErrStorage.Wrap(err)
	}
	return data, nil
}

// Headers returns the science header of the stored file sorted by keyword,
// without commentary cards.
func (s *ArchiveService) Headers(ctx context.Context, id uint) ([]HeaderEntry, error) {
	data, err := s.readFile(ctx, id)
	if err != nil {
		return nil, err
	}
	hdus, err := fitsutil.ReadHeaders(data)
	if err != nil {
		return nil, ErrMalformed.Wrap(err)
	}

	var sci *fitsutil.Header
	for _, hdu := range hdus {
		if hdu.Name == ScienceHDU {
			sci = hdu.Header
			break
		}
	}
	if sci == nil {
		return nil, ErrNotFound.New("no %s extension in stored file", ScienceHDU)
	}

	entries := []HeaderEntry{}
	for _, c := range sci.Cards() {
		switch c.Key {
		case "", "HISTORY", "COMMENT":
			continue
		}
		entries = append(entries, HeaderEntry{Key: c.Key, Value: c.Value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// WriteCatalog writes the source catalog of the frame as CSV. frames without a
// catalog produce no output.
func (s *ArchiveService) WriteCatalog(ctx context.Context, id uint, w io.Writer) error {
	data, err := s.readFile(ctx, id)
	if err != nil {
		return err
	}
	err = fitsutil.WriteTableCSV(data, CatalogHDU, w)
	if fitsutil.ErrNoSuchHDU.Has(err) {
		return nil
	}
	if err != nil {
		return ErrMalformed.Wrap(err)
	}
	return nil
}

// ZipEntries resolves frame ids to archive files. every id must exist.
func (s *ArchiveService) ZipEntries(ctx context.Context, ids []uint) ([]utils.ZipEntry, error) {
	frames, err := s.frames.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Frame, len(frames))
	for _, f := range frames {
		byID[f.ID] = f
	}

	entries := make([]utils.ZipEntry, 0, len(ids))
	for _, id := range ids {
		frame, ok := byID[id]
		if !ok {
			return nil, ErrNotFound.New("frame %d", id)
		}
		full, err := s.store.GetFullPath(FilePath(&frame))
		if err != nil {
			return nil, ErrStorage.Wrap(err)
		}
		entries = append(entries, utils.ZipEntry{Name: media.FrameFilename(frame.Basename), Path: full})
	}
	return entries, nil
}

// DeleteFrame removes the frame's file, tolerating its absence, and then its record.
func (s *ArchiveService) DeleteFrame(ctx context.Context, id uint, source string) error {
	frame, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, frame, source)
}

// DeleteByBasenames removes every named frame. names without a record are
// returned as missing.
func (s *ArchiveService) DeleteByBasenames(ctx context.Context, basenames []string, source string) (deleted, missing []string, err error) {
	frames, err := s.frames.FindByBasenames(ctx, basenames)
	if err != nil {
		return nil, nil, err
	}
	found := map[string]bool{}
	for i := range frames {
		if err := s.delete(ctx, &frames[i], source); err != nil {
			return deleted, nil, err
		}
		found[frames[i].Basename] = true
		deleted = append(deleted, frames[i].Basename)
	}
	for _, name := range basenames {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	return deleted, missing, nil
}

func (s *ArchiveService) delete(ctx context.Context, frame *models.Frame, source string) error {
	if err := s.store.Delete(FilePath(frame)); err != nil {
		return ErrStorage.Wrap(err)
	}
	if err := s.frames.Delete(ctx, frame); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound.New("frame %d", frame.ID)
		}
		return err
	}

	metrics.FramesDeleted.WithLabelValues(source).Inc()
	s.publisher.Broadcast(realtime.Event{Type: realtime.EventFrameDeleted, FrameID: frame.ID, Basename: frame.Basename})
	logging.Ctx(ctx).Info().Str("basename", frame.Basename).Str("source", source).Msg("deleted frame")
	return nil
}
