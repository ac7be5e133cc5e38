package services

import (
	"context"

	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/metrics"
	"github.com/camden-git/framearchive/models"
	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/repository"
)

const integrityBatchSize = 500

// IntegrityReport summarizes one integrity pass.
type IntegrityReport struct {
	Checked int      `json:"checked"`
	Missing int      `json:"missing"`
	Deleted int      `json:"deleted"`
	DryRun  bool     `json:"dry_run"`
	Files   []string `json:"missing_files"`
}

// Progress is reported after every batch.
type Progress struct {
	Checked int
	Missing int
}

// IntegrityService reconciles the catalog with the files on disk.
type IntegrityService struct {
	frames    repository.FrameRepositoryInterface
	archive   *ArchiveService
	publisher realtime.Publisher
}

// NewIntegrityService creates a new integrity service
func NewIntegrityService(frames repository.FrameRepositoryInterface, archive *ArchiveService, publisher realtime.Publisher) *IntegrityService {
	if publisher == nil {
		publisher = realtime.Discard
	}
	return &IntegrityService{frames: frames, archive: archive, publisher: publisher}
}

// Check looks for the file of every frame. missing ones are reported, and
// unless dryRun is set their records are removed. progress may be nil.
func (s *IntegrityService) Check(ctx context.Context, dryRun bool, progress func(Progress)) (IntegrityReport, error) {
	log := logging.Ctx(ctx)
	report := IntegrityReport{DryRun: dryRun, Files: []string{}}

	// collect first so deletions don't shift the batches being walked
	var missing []models.Frame
	err := s.frames.Each(ctx, integrityBatchSize, func(batch []models.Frame) error {
		for i := range batch {
			path := FilePath(&batch[i])
			ok, err := s.archive.store.Exists(path)
			if err != nil {
				return err
			}
			report.Checked++
			if !ok {
				log.Warn().Str("path", path).Msg("file missing")
				report.Files = append(report.Files, path)
				missing = append(missing, batch[i])
			}
		}
		p := Progress{Checked: report.Checked, Missing: len(missing)}
		if progress != nil {
			progress(p)
		}
		s.publisher.Broadcast(realtime.Event{
			Type:  realtime.EventIntegrityCheck,
			Extra: map[string]any{"checked": p.Checked, "missing": p.Missing},
		})
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Missing = len(missing)
	metrics.IntegrityMissing.Set(float64(report.Missing))

	if dryRun {
		return report, nil
	}
	for i := range missing {
		if err := s.archive.delete(ctx, &missing[i], "integrity"); err != nil {
			return report, err
		}
		report.Deleted++
	}
	log.Info().Int("checked", report.Checked).Int("deleted", report.Deleted).Msg("integrity pass finished")
	return report, nil
}
