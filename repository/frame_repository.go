package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/facette/natsort"
	"gorm.io/gorm"

	"github.com/camden-git/framearchive/database"
	"github.com/camden-git/framearchive/models"
)

// FrameRepository handles database operations for Frame entities
type FrameRepository struct {
	DB *gorm.DB
}

// NewFrameRepository creates a new instance of FrameRepository
func NewFrameRepository(db *gorm.DB) *FrameRepository {
	return &FrameRepository{DB: db}
}

// GetByID retrieves a frame with its related frames.
func (r *FrameRepository) GetByID(ctx context.Context, id uint) (*models.Frame, error) {
	var frame models.Frame
	err := r.DB.WithContext(ctx).Preload("Related").First(&frame, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get frame %d: %w", id, err)
	}
	return &frame, nil
}

// GetByIDs retrieves the frames with the given ids in id order. unknown ids are skipped.
func (r *FrameRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Frame, error) {
	var frames []models.Frame
	if len(ids) == 0 {
		return frames, nil
	}
	err := r.DB.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&frames).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get frames by ids: %w", err)
	}
	return frames, nil
}

// FindByBasename retrieves a frame by its canonical name.
func (r *FrameRepository) FindByBasename(ctx context.Context, basename string) (*models.Frame, error) {
	var frame models.Frame
	err := r.DB.WithContext(ctx).Where("basename = ?", basename).First(&frame).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get frame by basename %s: %w", basename, err)
	}
	return &frame, nil
}

// FindByBasenames retrieves all frames whose basename is in basenames.
func (r *FrameRepository) FindByBasenames(ctx context.Context, basenames []string) ([]models.Frame, error) {
	var frames []models.Frame
	if len(basenames) == 0 {
		return frames, nil
	}
	err := r.DB.WithContext(ctx).Where("basename IN ?", basenames).Order("id ASC").Find(&frames).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get frames by basenames: %w", err)
	}
	return frames, nil
}

// Save inserts or updates the frame. related frames are not touched.
func (r *FrameRepository) Save(ctx context.Context, frame *models.Frame) error {
	if err := r.DB.WithContext(ctx).Omit("Related").Save(frame).Error; err != nil {
		return fmt.Errorf("failed to save frame %s: %w", frame.Basename, err)
	}
	return nil
}

// ReplaceRelated sets the related frames of frame to exactly related.
func (r *FrameRepository) ReplaceRelated(ctx context.Context, frame *models.Frame, related []*models.Frame) error {
	assoc := r.DB.WithContext(ctx).Model(frame).Omit("Related.*").Association("Related")
	var err error
	if len(related) == 0 {
		err = assoc.Clear()
	} else {
		err = assoc.Replace(related)
	}
	if err != nil {
		return fmt.Errorf("failed to replace related frames of %s: %w", frame.Basename, err)
	}
	frame.Related = related
	return nil
}

// Delete removes the frame and every related link pointing to or from it.
func (r *FrameRepository) Delete(ctx context.Context, frame *models.Frame) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM frame_related WHERE frame_id = ? OR related_id = ?", frame.ID, frame.ID).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Frame{}, frame.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete frame %s: %w", frame.Basename, err)
	}
	return nil
}

// filtered returns a reusable query over frames matching filter.
func (r *FrameRepository) filtered(ctx context.Context, filter database.FrameFilter) (*gorm.DB, error) {
	tx, err := filter.Apply(r.DB.WithContext(ctx).Model(&models.Frame{}))
	if err != nil {
		return nil, fmt.Errorf("failed to build frame filter: %w", err)
	}
	return tx.Session(&gorm.Session{}), nil
}

// List returns one page of frames matching filter plus the total number of matches.
func (r *FrameRepository) List(ctx context.Context, filter database.FrameFilter, order database.Sort, page database.Page) ([]models.Frame, int64, error) {
	tx, err := r.filtered(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count frames: %w", err)
	}

	frames := []models.Frame{}
	if page.Limit == 0 || count == 0 {
		return frames, count, nil
	}

	err = tx.Preload("Related").
		Order(order.OrderBy()).
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&frames).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list frames: %w", err)
	}
	return frames, count, nil
}

// Aggregate computes the sorted distinct values of the facet fields over frames matching filter.
func (r *FrameRepository) Aggregate(ctx context.Context, filter database.FrameFilter) (models.FrameFacets, error) {
	tx, err := r.filtered(ctx, filter)
	if err != nil {
		return models.FrameFacets{}, err
	}

	facets := models.FrameFacets{}
	columns := []struct {
		column string
		dst    *[]string
	}{
		{"image_type", &facets.ImageTypes},
		{"site_id", &facets.Sites},
		{"telescope_id", &facets.Telescopes},
		{"instrument_id", &facets.Instruments},
	}
	for _, c := range columns {
		values := []string{}
		if err := tx.Distinct(c.column).Pluck(c.column, &values).Error; err != nil {
			return models.FrameFacets{}, fmt.Errorf("failed to aggregate %s: %w", c.column, err)
		}
		sort.Strings(values)
		*c.dst = values
	}

	var filters []*string
	if err := tx.Distinct("filter_name").Pluck("filter_name", &filters).Error; err != nil {
		return models.FrameFacets{}, fmt.Errorf("failed to aggregate filter_name: %w", err)
	}
	seen := map[string]bool{}
	facets.Filters = []string{}
	for _, f := range filters {
		name := database.FilterNone
		if f != nil && *f != "" {
			name = *f
		}
		if !seen[name] {
			seen[name] = true
			facets.Filters = append(facets.Filters, name)
		}
	}
	sort.Strings(facets.Filters)

	var binnings []struct {
		XBinning int
		YBinning int
	}
	if err := tx.Distinct("x_binning", "y_binning").Scan(&binnings).Error; err != nil {
		return models.FrameFacets{}, fmt.Errorf("failed to aggregate binnings: %w", err)
	}
	facets.Binnings = make([]string, 0, len(binnings))
	for _, b := range binnings {
		facets.Binnings = append(facets.Binnings, models.FormatBinning(b.XBinning, b.YBinning))
	}
	natsort.Sort(facets.Binnings)

	return facets, nil
}

// Each calls fn for consecutive batches of all frames in id order.
func (r *FrameRepository) Each(ctx context.Context, batchSize int, fn func([]models.Frame) error) error {
	var batch []models.Frame
	result := r.DB.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(batch)
	})
	if result.Error != nil {
		return fmt.Errorf("failed to iterate frames: %w", result.Error)
	}
	return nil
}
