package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/repositories"
)

// ColumnStatusService reports how far each source column is from being deployable.
type ColumnStatusService interface {
	List(ctx context.Context) ([]*models.ColumnStatus, error)
}

type columnStatusService struct {
	repo      repositories.ClassificationRepository
	threshold float64
	logger    *zap.Logger
}

// NewColumnStatusService creates a ColumnStatusService. Columns whose latest confidence
// is at least threshold are "Ready to Deploy".
func NewColumnStatusService(repo repositories.ClassificationRepository, threshold float64, logger *zap.Logger) ColumnStatusService {
	return &columnStatusService{
		repo:      repo,
		threshold: threshold,
		logger:    logger.Named("column-status-service"),
	}
}

var _ ColumnStatusService = (*columnStatusService)(nil)

func (s *columnStatusService) List(ctx context.Context) ([]*models.ColumnStatus, error) {
	statuses, err := s.repo.ListColumnStatus(ctx, s.threshold)
	if err != nil {
		s.logger.Error("Failed to list column status", zap.Error(err))
		return nil, err
	}
	return statuses, nil
}
