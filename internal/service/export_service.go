package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/export"
	"github.com/noah-isme/student-portal-api/pkg/storage"
)

type recordExporter interface {
	ListAll(ctx context.Context, category models.Category, rollNumber string) (interface{}, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Enabled         bool
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ExportFile is a resolved download.
type ExportFile struct {
	File        *os.File
	Name        string
	ContentType string
}

// ExportService renders a caller's records to storage and hands back signed
// download links.
type ExportService struct {
	records   recordExporter
	profiles  profileResolver
	storage   fileStorage
	signer    *storage.SignedURLSigner
	renderers map[string]export.Renderer
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService. CSV and PDF renderers are
// registered unless overridden.
func NewExportService(records recordExporter, profiles profileResolver, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, renderers ...export.Renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if len(renderers) == 0 {
		renderers = []export.Renderer{export.NewCSVExporter(), export.NewPDFExporter()}
	}
	byFormat := make(map[string]export.Renderer, len(renderers))
	for _, r := range renderers {
		byFormat[r.Extension()] = r
	}
	return &ExportService{
		records:   records,
		profiles:  profiles,
		storage:   store,
		signer:    signer,
		renderers: byFormat,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Export renders category for principal in format (csv by default).
func (s *ExportService) Export(ctx context.Context, principal models.Principal, category models.Category, format string) (*models.ExportResponse, error) {
	if !s.cfg.Enabled || s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupported, "exports are disabled")
	}
	if !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown record category")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	var rollNumber string
	title := strings.ToUpper(string(category[:1])) + string(category[1:])
	if !category.Global() {
		profile, err := s.profiles.Resolve(ctx, principal)
		if err != nil {
			return nil, err
		}
		rollNumber = profile.RollNumber
		title = fmt.Sprintf("%s - %s (%s)", title, profile.Name, profile.RollNumber)
	}

	items, err := s.records.ListAll(ctx, category, rollNumber)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load records for export")
	}
	dataset, err := buildDataset(category, items)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prepare export")
	}
	payload, err := renderer.Render(dataset, title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := path.Join(principal.ID, fmt.Sprintf("%s-%s.%s", category, s.now().UTC().Format("20060102_150405"), renderer.Extension()))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(principal.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("export generated", zap.String("user_id", principal.ID), zap.String("category", string(category)), zap.String("format", format), zap.Int("rows", len(dataset.Rows)))
	return &models.ExportResponse{
		URL:       fmt.Sprintf("%s/exports/download/%s", prefix, token),
		Format:    format,
		ExpiresAt: expiresAt,
	}, nil
}

// Open validates a download token and opens the file it names.
func (s *ExportService) Open(token string) (*ExportFile, error) {
	if !s.cfg.Enabled || s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupported, "exports are disabled")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	name := path.Base(relPath)
	contentType := "application/octet-stream"
	if r, ok := s.renderers[strings.TrimPrefix(path.Ext(name), ".")]; ok {
		contentType = r.ContentType()
	}
	return &ExportFile{File: file, Name: name, ContentType: contentType}, nil
}

// Cleanup removes exports older than the signed URL lifetime.
func (s *ExportService) Cleanup() ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	return s.storage.CleanupOlderThan(s.cfg.ResultTTL)
}

// RunCleanup calls Cleanup every CleanupInterval until ctx is done.
func (s *ExportService) RunCleanup(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Cleanup()
			if err != nil {
				s.logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}

type exportRower interface {
	ExportRow() map[string]string
}

func buildDataset(category models.Category, items interface{}) (export.Dataset, error) {
	dataset := export.Dataset{Headers: models.ExportHeaders(category)}
	add := func(r exportRower) { dataset.Rows = append(dataset.Rows, r.ExportRow()) }

	switch rows := items.(type) {
	case []models.AttendanceRecord:
		for _, r := range rows {
			add(r)
		}
	case []models.ResultRecord:
		for _, r := range rows {
			add(r)
		}
	case []models.AchievementRecord:
		for _, r := range rows {
			add(r)
		}
	case []models.NegativeRemark:
		for _, r := range rows {
			add(r)
		}
	case []models.Announcement:
		for _, r := range rows {
			add(r)
		}
	case []models.ProjectRecord:
		for _, r := range rows {
			add(r)
		}
	default:
		return export.Dataset{}, fmt.Errorf("unexpected rows %T for %s", items, category)
	}
	return dataset, nil
}
