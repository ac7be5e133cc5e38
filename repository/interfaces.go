package repository

import (
	"context"

	"github.com/camden-git/framearchive/database"
	"github.com/camden-git/framearchive/models"
)

// FrameRepositoryInterface defines the methods for frame catalog operations
type FrameRepositoryInterface interface {
	GetByID(ctx context.Context, id uint) (*models.Frame, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Frame, error)
	FindByBasename(ctx context.Context, basename string) (*models.Frame, error)
	FindByBasenames(ctx context.Context, basenames []string) ([]models.Frame, error)
	Save(ctx context.Context, frame *models.Frame) error
	ReplaceRelated(ctx context.Context, frame *models.Frame, related []*models.Frame) error
	Delete(ctx context.Context, frame *models.Frame) error
	List(ctx context.Context, filter database.FrameFilter, order database.Sort, page database.Page) ([]models.Frame, int64, error)
	Aggregate(ctx context.Context, filter database.FrameFilter) (models.FrameFacets, error)
	Each(ctx context.Context, batchSize int, fn func([]models.Frame) error) error
}

var _ FrameRepositoryInterface = (*FrameRepository)(nil)
