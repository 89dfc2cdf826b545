package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
)

const (
	labListCacheKey = "labs:list"
	labCachePattern = "labs:*"
)

type labRepository interface {
	FindByCode(ctx context.Context, code string) (*models.Lab, error)
	List(ctx context.Context) ([]models.Lab, error)
	AddWindow(ctx context.Context, window *models.MaintenanceWindow) error
	DeleteWindow(ctx context.Context, code, id string) error
}

type subjectLister interface {
	List(ctx context.Context) ([]models.Subject, error)
}

// LabService exposes the lab catalog and maintenance administration.
// Listings are cached; reservation paths read labs directly from the store.
type LabService struct {
	labs      labRepository
	subjects  subjectLister
	cache     *CacheService
	audit     auditSink
	validator *validator.Validate
	logger    *zap.Logger
	ttl       time.Duration
}

// NewLabService constructs a lab service.
func NewLabService(labs labRepository, subjects subjectLister, cache *CacheService, audit auditSink, ttl time.Duration, validate *validator.Validate, logger *zap.Logger) *LabService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabService{labs: labs, subjects: subjects, cache: cache, audit: audit, validator: validate, logger: logger, ttl: ttl}
}

// List returns every lab with its maintenance windows.
func (s *LabService) List(ctx context.Context) ([]models.Lab, error) {
	var cached []models.Lab
	if s.cache.Get(ctx, labListCacheKey, &cached) {
		return cached, nil
	}
	labs, err := s.labs.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list labs")
	}
	s.cache.Set(ctx, labListCacheKey, labs, s.ttl)
	return labs, nil
}

// Get returns one lab.
func (s *LabService) Get(ctx context.Context, code string) (*models.Lab, error) {
	lab, err := s.labs.FindByCode(ctx, models.NormalizeLabCode(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lab")
	}
	return lab, nil
}

// Subjects lists the subject catalog.
func (s *LabService) Subjects(ctx context.Context) ([]models.Subject, error) {
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// AddMaintenanceWindow blocks a lab for an inclusive range of days.
func (s *LabService) AddMaintenanceWindow(ctx context.Context, identity models.Identity, code string, req dto.AddMaintenanceWindowRequest) (*models.MaintenanceWindow, error) {
	if !identity.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can manage maintenance")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid maintenance payload")
	}
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be YYYY-MM-DD")
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}

	createdBy := identity.UserID
	window := &models.MaintenanceWindow{
		LabCode:   models.NormalizeLabCode(code),
		StartDate: start,
		EndDate:   end,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: &createdBy,
	}
	if err := s.labs.AddWindow(ctx, window); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add maintenance window")
	}

	s.cache.Invalidate(ctx, labCachePattern)
	writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionMaintenanceAdd, "lab", window.LabCode, nil, window)
	s.logger.Info("maintenance window added",
		zap.String("lab_code", window.LabCode),
		zap.String("start", models.FormatDate(start)),
		zap.String("end", models.FormatDate(end)),
	)
	return window, nil
}

// RemoveMaintenanceWindow reopens a lab for the window's days.
func (s *LabService) RemoveMaintenanceWindow(ctx context.Context, identity models.Identity, code, id string) error {
	if !identity.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can manage maintenance")
	}
	labCode := models.NormalizeLabCode(code)
	if err := s.labs.DeleteWindow(ctx, labCode, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "maintenance window not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove maintenance window")
	}
	s.cache.Invalidate(ctx, labCachePattern)
	writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionMaintenanceDrop, "lab", labCode, map[string]string{"window_id": id}, nil)
	return nil
}
