package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

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

// ScienceHDU is the unit holding the image and the header the catalog is built from.
const ScienceHDU = "SCI"

// IngestService turns uploaded FITS files into archived, catalogued frames.
type IngestService struct {
	frames            repository.FrameRepositoryInterface
	store             media.Store
	compressor        media.Compressor
	pathFormatter     *utils.FilenameFormatter
	filenameFormatter *utils.FilenameFormatter
	publisher         realtime.Publisher
}

// NewIngestService creates a new ingest service. pathFormatter is mandatory for
// ingestion to succeed; filenameFormatter may be nil.
func NewIngestService(
	frames repository.FrameRepositoryInterface,
	store media.Store,
	compressor media.Compressor,
	pathFormatter *utils.FilenameFormatter,
	filenameFormatter *utils.FilenameFormatter,
	publisher realtime.Publisher,
) *IngestService {
	if publisher == nil {
		publisher = realtime.Discard
	}
	return &IngestService{
		frames:            frames,
		store:             store,
		compressor:        compressor,
		pathFormatter:     pathFormatter,
		filenameFormatter: filenameFormatter,
		publisher:         publisher,
	}
}

// Upload is one file of a batch.
type Upload struct {
	Name string
	Data io.Reader
}

// BatchResult reports the outcome of a batch ingestion.
type BatchResult struct {
	Created   int      `json:"created"`
	Filenames []string `json:"filenames"`
	Errors    []string `json:"errors,omitempty"`
}

// Ingest stores one FITS file and returns its canonical basename. uploadName
// is the client's file name, used for the basename when no filename template
// is configured.
func (s *IngestService) Ingest(ctx context.Context, r io.Reader, uploadName string) (string, error) {
	start := time.Now()
	basename, frameID, err := s.ingest(ctx, r, uploadName)

	if err != nil {
		metrics.RecordIngest(time.Since(start), failureReason(err))
		s.publisher.Broadcast(realtime.Event{Type: realtime.EventIngestFailed, Basename: basename, Error: err.Error()})
		return "", err
	}
	metrics.RecordIngest(time.Since(start), "")
	s.publisher.Broadcast(realtime.Event{Type: realtime.EventFrameIngested, FrameID: frameID, Basename: basename})
	return basename, nil
}

func (s *IngestService) ingest(ctx context.Context, r io.Reader, uploadName string) (string, uint, error) {
	log := logging.Ctx(ctx).With().Str("upload", uploadName).Logger()

	if s.pathFormatter == nil {
		return "", 0, ErrConfig.New("no path formatter configured")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read upload %s: %w", uploadName, err)
	}
	file, err := fitsutil.Decode(data)
	if err != nil {
		return "", 0, ErrMalformed.Wrap(err)
	}
	sci, err := file.HDU(ScienceHDU)
	if err != nil {
		return "", 0, ErrMalformed.New("no %s extension in %s", ScienceHDU, uploadName)
	}

	path, err := s.pathFormatter.Format(sci.Header)
	if err != nil {
		return "", 0, formatError("path", err)
	}

	basename, err := s.basename(sci.Header, uploadName)
	if err != nil {
		return "", 0, err
	}
	log = log.With().Str("basename", basename).Logger()

	if err := file.SetCard(ScienceHDU, fitsutil.Card{Key: "FNAME", Value: basename}); err != nil {
		return basename, 0, ErrMalformed.Wrap(err)
	}

	if _, err := s.store.GetFullPath(path); err != nil {
		return basename, 0, ErrMalformed.New("invalid archive path %q: %v", path, err)
	}

	// header-derived fields start from their defaults on every ingestion, so
	// values missing from this header do not survive from an earlier one
	frame := &models.Frame{Basename: basename, Path: path, XBinning: 1, YBinning: 1}
	existing, err := s.frames.FindByBasename(ctx, basename)
	switch {
	case err == nil:
		frame.ID, frame.CreatedAt = existing.ID, existing.CreatedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return basename, 0, err
	}

	if err := applyHeader(frame, sci.Header, log); err != nil {
		return basename, 0, err
	}
	if err := s.frames.Save(ctx, frame); err != nil {
		return basename, 0, err
	}

	if err := s.linkRelated(ctx, frame, sci.Header); err != nil {
		return basename, frame.ID, err
	}

	if _, err := s.store.EnsureDir(path); err != nil {
		return basename, frame.ID, ErrStorage.Wrap(err)
	}

	log.Info().Msg("compressing file")
	compressStart := time.Now()
	compressed, err := s.compressor.Compress(ctx, file.Bytes())
	metrics.RecordCompress(time.Since(compressStart))
	if err != nil {
		return basename, frame.ID, compressError(err)
	}

	if _, err := s.store.Save(path, media.FrameFilename(basename), bytes.NewReader(compressed)); err != nil {
		return basename, frame.ID, ErrStorage.Wrap(err)
	}

	log.Info().Uint("frame_id", frame.ID).Str("path", path).Msg("stored frame")
	return basename, frame.ID, nil
}

// basename picks the canonical name: the filename template, else the upload
// name, else the FNAME card of the header.
func (s *IngestService) basename(h *fitsutil.Header, uploadName string) (string, error) {
	var name string
	switch {
	case s.filenameFormatter != nil:
		formatted, err := s.filenameFormatter.Format(h)
		if err != nil {
			return "", formatError("filename", err)
		}
		name = formatted
	case uploadName != "":
		name = utils.BasenameFromUpload(uploadName)
	default:
		fname, _ := h.String("FNAME")
		name = utils.BasenameFromUpload(fname)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrMalformed.New("cannot determine a basename")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", ErrMalformed.New("invalid basename %q", name)
	}
	return name, nil
}

// linkRelated replaces the related set with every referenced frame that exists.
func (s *IngestService) linkRelated(ctx context.Context, frame *models.Frame, h *fitsutil.Header) error {
	var related []*models.Frame
	for _, name := range relatedBasenames(h) {
		other, err := s.frames.FindByBasename(ctx, name)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Ctx(ctx).Error().Str("basename", frame.Basename).Str("related", name).
				Msg("could not set related frame, not found")
			continue
		}
		if err != nil {
			return err
		}
		related = append(related, other)
	}
	return s.frames.ReplaceRelated(ctx, frame, related)
}

// IngestBatch ingests uploads in order. a failing file never aborts the batch;
// distinct error messages are collected.
func (s *IngestService) IngestBatch(ctx context.Context, uploads []Upload) BatchResult {
	result := BatchResult{Filenames: []string{}}
	seen := map[string]bool{}

	for _, upload := range uploads {
		name, err := s.Ingest(ctx, upload.Data, upload.Name)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("upload", upload.Name).Msg("could not add image")
			if msg := err.Error(); !seen[msg] {
				seen[msg] = true
				result.Errors = append(result.Errors, msg)
			}
			continue
		}
		result.Filenames = append(result.Filenames, name)
	}
	result.Created = len(result.Filenames)
	sort.Strings(result.Errors)
	return result
}
