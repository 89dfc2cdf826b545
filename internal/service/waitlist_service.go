package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	"github.com/noah-isme/lab-booking-api/internal/repository"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
)

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// WaitlistService manages per-booking queues and admin-directed promotion.
type WaitlistService struct {
	bookings  bookingRepository
	labs      labReader
	users     userReader
	audit     auditSink
	events    EventPublisher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewWaitlistService constructs a waitlist service.
func NewWaitlistService(bookings bookingRepository, labs labReader, users userReader, audit auditSink, events EventPublisher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *WaitlistService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{
		bookings:  bookings,
		labs:      labs,
		users:     users,
		audit:     audit,
		events:    events,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Join appends identity to the booking's queue.
func (s *WaitlistService) Join(ctx context.Context, identity models.Identity, bookingID string) (*models.WaitlistEntry, error) {
	if identity.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	booking, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnedBy(identity.UserID) {
		return nil, appErrors.ErrAlreadyHolder
	}
	if booking.Waitlisted(identity.UserID) {
		return nil, appErrors.ErrAlreadyWaitlisted
	}

	entry := &models.WaitlistEntry{
		BookingID:   booking.ID,
		UserID:      identity.UserID,
		Email:       identity.Email,
		RequestedAt: s.now().UTC(),
	}
	if err := s.bookings.AddWaitlistEntry(ctx, entry); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateWaitlist):
			return nil, appErrors.ErrAlreadyWaitlisted
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join waitlist")
	}

	s.metrics.RecordBooking("waitlist_join", OutcomeWaitlisted)
	writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionWaitlistJoin, "waitlist", booking.ID, nil, entry)
	return entry, nil
}

// Leave removes identity from the booking's queue.
func (s *WaitlistService) Leave(ctx context.Context, identity models.Identity, bookingID string) error {
	if _, err := s.load(ctx, bookingID); err != nil {
		return err
	}
	if err := s.bookings.RemoveWaitlistEntry(ctx, bookingID, identity.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "not on the waitlist")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave waitlist")
	}
	writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionWaitlistLeave, "waitlist", bookingID, nil, nil)
	return nil
}

// List returns the queue in FIFO order.
func (s *WaitlistService) List(ctx context.Context, bookingID string) ([]models.WaitlistEntry, error) {
	booking, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return booking.Waitlist, nil
}

// Promote makes the named queued user the approved holder of the slot. Any
// queued user may be chosen; queue order is informational.
func (s *WaitlistService) Promote(ctx context.Context, identity models.Identity, bookingID string, req dto.PromoteWaitlistRequest) (*models.Booking, error) {
	if !identity.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can promote from the waitlist")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promote payload")
	}

	booking, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.Occupying() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "booking no longer holds its slot")
	}
	if !booking.Waitlisted(req.UserID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user is not on the waitlist")
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.AccountStatus != models.AccountApproved {
		return nil, appErrors.Clone(appErrors.ErrAccountNotApproved, "queued user's account is not approved")
	}

	lab, err := s.labs.FindByCode(ctx, booking.LabCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lab")
	}
	if lab.MaintenanceOn(booking.Date) != nil {
		return nil, appErrors.Clone(appErrors.ErrLabMaintenance, "lab is under maintenance on this date")
	}

	createdBy := user.ID
	promoted := &models.Booking{
		LabCode:      booking.LabCode,
		Date:         booking.Date,
		Period:       booking.Period,
		CreatedBy:    &createdBy,
		CreatorName:  user.FullName,
		Role:         user.Role,
		Type:         booking.Type,
		Purpose:      booking.Purpose,
		SubjectID:    booking.SubjectID,
		Status:       models.BookingApproved,
		Priority:     user.Role.Weight(),
		ShowInBanner: booking.ShowInBanner,
		BannerColor:  booking.BannerColor,
	}
	if err := s.bookings.Transfer(ctx, booking.ID, promoted, user.ID); err != nil {
		if errors.Is(err, repository.ErrSlotChanged) || errors.Is(err, repository.ErrSlotTaken) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "booking changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote waitlist entry")
	}

	s.logger.Info("waitlist promoted",
		zap.String("slot", promoted.Key().String()),
		zap.String("from_booking", booking.ID),
		zap.String("to_booking", promoted.ID),
		zap.String("user_id", user.ID),
	)
	s.metrics.RecordBooking("promote", OutcomePromoted)
	writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionWaitlistPromote, "booking", promoted.ID, booking, promoted)
	if s.events != nil {
		s.events.Publish(models.SlotEvent(models.EventUpdate, promoted))
	}
	return promoted, nil
}

func (s *WaitlistService) load(ctx context.Context, id string) (*models.Booking, error) {
	return loadBooking(ctx, s.bookings, id)
}
