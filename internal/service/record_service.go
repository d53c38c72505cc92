package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type recordLister interface {
	List(ctx context.Context, category models.Category, filter models.RecordFilter) (*models.RecordPage, error)
}

// RecordListRequest selects one page of a category.
type RecordListRequest struct {
	Category models.Category
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// RecordService lists the caller's records. Global categories skip profile
// resolution.
type RecordService struct {
	records  recordLister
	profiles profileResolver
	logger   *zap.Logger
}

// NewRecordService constructs a RecordService.
func NewRecordService(records recordLister, profiles profileResolver, logger *zap.Logger) *RecordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordService{records: records, profiles: profiles, logger: logger}
}

// List returns one page of records and the normalised pagination.
func (s *RecordService) List(ctx context.Context, principal models.Principal, req RecordListRequest) (*models.RecordPage, *models.Pagination, error) {
	if !req.Category.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "unknown record category")
	}
	page, size := normalizePage(req.Page, req.PageSize)

	filter := models.RecordFilter{Page: page, PageSize: size}
	if !req.Category.Global() {
		profile, err := s.profiles.Resolve(ctx, principal)
		if appErrors.IsNotFound(err) {
			empty := &models.RecordPage{
				Category: req.Category,
				Items:    []interface{}{},
				Status:   &models.CategoryStatus{State: models.CategoryStateNotFound, Message: "student profile not found"},
			}
			return empty, &models.Pagination{Page: page, PageSize: size}, nil
		}
		if err != nil {
			return nil, nil, err
		}
		filter.RollNumber = profile.RollNumber
	}

	result, err := s.records.List(ctx, req.Category, filter)
	if err != nil {
		s.logger.Warn("record listing failed", zap.String("category", string(req.Category)), zap.Error(err))
		return nil, nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load records")
	}
	return result, &models.Pagination{Page: page, PageSize: size, TotalCount: result.Total}, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
