package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	"github.com/noah-isme/lab-booking-api/internal/repository"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/middleware/requestid"
)

type bookingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	FindActiveBySlot(ctx context.Context, key models.SlotKey) (*models.Booking, error)
	ListActiveByLabDate(ctx context.Context, labCode string, date time.Time) ([]models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	Create(ctx context.Context, booking *models.Booking) error
	Replace(ctx context.Context, existingID string, booking *models.Booking) error
	Transfer(ctx context.Context, fromID string, booking *models.Booking, promotedUserID string) error
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus, reason *string) error
	AddWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error
	RemoveWaitlistEntry(ctx context.Context, bookingID, userID string) error
	ListWaitlist(ctx context.Context, bookingID string) ([]models.WaitlistEntry, error)
}

type labReader interface {
	FindByCode(ctx context.Context, code string) (*models.Lab, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type auditSink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EventPublisher receives booking change events after commit. Implementations must not block.
type EventPublisher interface {
	Publish(event models.BookingEvent)
}

// ReservationConfig tunes the reservation engine.
type ReservationConfig struct {
	// Location defines the local calendar day used for past-date checks.
	Location *time.Location
}

// ReservationService validates, creates, overrides and moderates single-slot bookings.
type ReservationService struct {
	bookings  bookingRepository
	labs      labReader
	subjects  subjectReader
	audit     auditSink
	events    EventPublisher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewReservationService constructs the reservation engine.
func NewReservationService(bookings bookingRepository, labs labReader, subjects subjectReader, audit auditSink, events EventPublisher, metrics *MetricsService, cfg ReservationConfig, validate *validator.Validate, logger *zap.Logger) *ReservationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ReservationService{
		bookings:  bookings,
		labs:      labs,
		subjects:  subjects,
		audit:     audit,
		events:    events,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		loc:       cfg.Location,
		now:       time.Now,
	}
}

// Today returns the current calendar day in the configured timezone.
func (s *ReservationService) Today() time.Time {
	return models.DateOf(s.now(), s.loc)
}

type reserveOptions struct {
	recurrenceID    string
	batch           bool
	subjectVerified bool
}

type reserveResult struct {
	booking    *models.Booking
	overridden *models.Booking
}

// ReserveSlot books a single slot for identity. An occupied slot the caller
// cannot override yields ErrSlotBooked; joining the waitlist is a separate call.
func (s *ReservationService) ReserveSlot(ctx context.Context, identity models.Identity, req dto.ReserveSlotRequest) (*models.Booking, error) {
	res, err := s.reserve(ctx, identity, req, reserveOptions{})
	if err != nil {
		s.metrics.RecordBooking("reserve", outcomeFor(err))
		return nil, err
	}

	action := models.AuditActionBookingCreate
	outcome := OutcomeCreated
	if res.overridden != nil {
		action = models.AuditActionBookingOverride
		outcome = OutcomeOverridden
	}
	s.metrics.RecordBooking("reserve", outcome)
	s.record(ctx, identity, action, res.booking.ID, res.overridden, res.booking)
	s.publish(models.SlotEvent(models.EventCreate, res.booking))
	return res.booking, nil
}

func (s *ReservationService) reserve(ctx context.Context, identity models.Identity, req dto.ReserveSlotRequest, opts reserveOptions) (*reserveResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reservation payload")
	}
	labCode := models.NormalizeLabCode(req.LabCode)
	if labCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lab_code is required")
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	if !models.IsBookablePeriod(req.Period) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("period %d is not bookable", req.Period))
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown booking type %q", req.Type))
	}

	if date.Before(s.Today()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot book a past date")
	}
	if req.Type.Examination() && date.Weekday() == time.Sunday {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tests and exams cannot be scheduled on Sunday")
	}

	if !identity.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	}
	if !identity.Approved() {
		return nil, appErrors.ErrAccountNotApproved
	}

	subjectID := trimmed(req.SubjectID)
	if identity.Role == models.RoleStaff && subjectID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject is required for staff bookings")
	}
	if subjectID != nil && !opts.subjectVerified {
		if err := s.ensureSubject(ctx, *subjectID); err != nil {
			return nil, err
		}
	}

	lab, err := s.labs.FindByCode(ctx, labCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lab")
	}
	if window := lab.MaintenanceOn(date); window != nil {
		return nil, appErrors.WithDetails(appErrors.ErrLabMaintenance, fmt.Sprintf("lab %s is under maintenance on %s", labCode, models.FormatDate(date)), map[string]string{
			"window_id":  window.ID,
			"start_date": models.FormatDate(window.StartDate),
			"end_date":   models.FormatDate(window.EndDate),
			"reason":     window.Reason,
		})
	}

	key := models.SlotKey{LabCode: labCode, Date: date, Period: req.Period}
	existing, err := s.bookings.FindActiveBySlot(ctx, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	if errors.Is(err, sql.ErrNoRows) {
		existing = nil
	}

	input := PolicyInput{RequesterRole: identity.Role, RequestedType: req.Type, Batch: opts.batch}
	if existing != nil {
		input.OccupantRole = existing.Role
	}

	booking := s.newBooking(identity, key, req, subjectID, opts.recurrenceID)
	switch Decide(input) {
	case DecisionAllow:
		err = s.bookings.Create(ctx, booking)
	case DecisionOverride:
		err = s.bookings.Replace(ctx, existing.ID, booking)
	case DecisionWaitlistOnly:
		return nil, slotBooked(existing)
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not book labs")
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSlotTaken), errors.Is(err, repository.ErrSlotChanged):
			return nil, appErrors.Clone(appErrors.ErrSlotBooked, "slot was taken by a concurrent request")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save booking")
	}

	s.logger.Info("slot reserved",
		zap.String("slot", key.String()),
		zap.String("booking_id", booking.ID),
		zap.String("role", string(identity.Role)),
		zap.Bool("override", existing != nil),
	)

	res := &reserveResult{booking: booking}
	if existing != nil {
		res.overridden = existing
	}
	return res, nil
}

func (s *ReservationService) newBooking(identity models.Identity, key models.SlotKey, req dto.ReserveSlotRequest, subjectID *string, recurrenceID string) *models.Booking {
	createdBy := identity.UserID
	status := models.BookingPending
	if identity.IsAdmin() {
		status = models.BookingApproved
	}
	booking := &models.Booking{
		LabCode:      key.LabCode,
		Date:         key.Date,
		Period:       key.Period,
		CreatedBy:    &createdBy,
		CreatorName:  identity.Name,
		Role:         identity.Role,
		Type:         req.Type,
		Purpose:      strings.TrimSpace(req.Purpose),
		SubjectID:    subjectID,
		Status:       status,
		Priority:     identity.Role.Weight(),
		ShowInBanner: req.ShowInBanner,
		BannerColor:  req.BannerColor,
		Waitlist:     []models.WaitlistEntry{},
	}
	if recurrenceID != "" {
		id := recurrenceID
		booking.IsRecurring = true
		booking.RecurrenceID = &id
	}
	return booking
}

func (s *ReservationService) ensureSubject(ctx context.Context, id string) error {
	if _, err := s.subjects.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return nil
}

// CancelBooking deletes a booking owned by identity, or any booking for admins.
// The waitlist is not promoted.
func (s *ReservationService) CancelBooking(ctx context.Context, identity models.Identity, id string) error {
	booking, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !identity.IsAdmin() && !booking.OwnedBy(identity.UserID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner or an admin can cancel this booking")
	}
	if err := s.bookings.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel booking")
	}

	s.metrics.RecordBooking("cancel", OutcomeCancelled)
	s.record(ctx, identity, models.AuditActionBookingCancel, booking.ID, booking, nil)
	s.publish(models.SlotEvent(models.EventDelete, booking))
	return nil
}

// Approve moves a pending booking to approved.
func (s *ReservationService) Approve(ctx context.Context, identity models.Identity, id string) (*models.Booking, error) {
	return s.transition(ctx, identity, id, models.BookingApproved, nil, models.AuditActionBookingApprove)
}

// Reject moves a pending booking to rejected and keeps the record.
func (s *ReservationService) Reject(ctx context.Context, identity models.Identity, id string, req dto.RejectBookingRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reject payload")
	}
	var reason *string
	if r := strings.TrimSpace(req.Reason); r != "" {
		reason = &r
	}
	return s.transition(ctx, identity, id, models.BookingRejected, reason, models.AuditActionBookingReject)
}

func (s *ReservationService) transition(ctx context.Context, identity models.Identity, id string, to models.BookingStatus, reason *string, action string) (*models.Booking, error) {
	if !identity.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can moderate bookings")
	}
	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("booking is %s, only PENDING bookings can be moderated", booking.Status))
	}

	if err := s.bookings.UpdateStatus(ctx, id, models.BookingPending, to, reason); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "booking changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking")
	}

	before := *booking
	booking.Status = to
	booking.AdminReason = reason
	booking.UpdatedAt = time.Now().UTC()

	outcome := OutcomeApproved
	if to == models.BookingRejected {
		outcome = OutcomeRejected
	}
	s.metrics.RecordBooking("moderate", outcome)
	s.record(ctx, identity, action, booking.ID, &before, booking)
	s.publish(models.SlotEvent(models.EventUpdate, booking))
	return booking, nil
}

// GetByID returns a booking with its waitlist.
func (s *ReservationService) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return s.load(ctx, id)
}

// GetBySlot returns the current occupant of a slot, if any.
func (s *ReservationService) GetBySlot(ctx context.Context, labCode, date string, period int) (*dto.SlotView, error) {
	key, err := parseSlotKey(labCode, date, period)
	if err != nil {
		return nil, err
	}
	view := &dto.SlotView{Key: key}
	booking, err := s.bookings.FindActiveBySlot(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return view, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	view.Booking = booking
	view.Occupied = true
	return view, nil
}

// List returns bookings matching filter.
func (s *ReservationService) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error) {
	filter.LabCode = models.NormalizeLabCode(filter.LabCode)
	bookings, total, err := s.bookings.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 20
	}
	return bookings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListMine returns the bookings created by identity.
func (s *ReservationService) ListMine(ctx context.Context, identity models.Identity, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error) {
	filter.CreatedBy = identity.UserID
	return s.List(ctx, filter)
}

// Availability describes every period of a lab's day.
func (s *ReservationService) Availability(ctx context.Context, labCode, date string) (*dto.DayAvailability, error) {
	code := models.NormalizeLabCode(labCode)
	day, err := models.ParseDate(date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	lab, err := s.labs.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lab")
	}
	bookings, err := s.bookings.ListActiveByLabDate(ctx, code, day)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}
	byPeriod := make(map[int]*models.Booking, len(bookings))
	for i := range bookings {
		byPeriod[bookings[i].Period] = &bookings[i]
	}

	maintenance := lab.MaintenanceOn(day) != nil
	past := day.Before(s.Today())
	result := &dto.DayAvailability{LabCode: code, Date: models.FormatDate(day)}
	for _, period := range models.Periods() {
		slot := dto.PeriodAvailability{PeriodInfo: period, Maintenance: maintenance}
		if b, ok := byPeriod[period.Number]; ok {
			status := b.Status
			slot.BookingID = b.ID
			slot.Status = &status
			slot.HolderName = b.CreatorName
			slot.HolderRole = b.Role
			slot.Type = b.Type
			slot.WaitlistCount = len(b.Waitlist)
		}
		slot.Available = period.Bookable && !maintenance && !past && slot.BookingID == ""
		result.Periods = append(result.Periods, slot)
	}
	return result, nil
}

func (s *ReservationService) load(ctx context.Context, id string) (*models.Booking, error) {
	return loadBooking(ctx, s.bookings, id)
}

// loadBooking treats ids that are not UUIDs as unknown bookings.
func loadBooking(ctx context.Context, bookings bookingRepository, id string) (*models.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
	}
	booking, err := bookings.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	return booking, nil
}

func (s *ReservationService) publish(event models.BookingEvent) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

// record writes the audit trail. Failures never affect the committed mutation.
func (s *ReservationService) record(ctx context.Context, identity models.Identity, action, resourceID string, before, after interface{}) {
	writeAudit(ctx, s.audit, s.logger, identity, action, "booking", resourceID, before, after)
}

func writeAudit(ctx context.Context, sink auditSink, logger *zap.Logger, identity models.Identity, action, resource, resourceID string, before, after interface{}) {
	if sink == nil {
		return
	}
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		RequestID: requestid.FromContext(ctx),
	}
	if identity.UserID != "" {
		userID := identity.UserID
		entry.UserID = &userID
	}
	if resourceID != "" {
		id := resourceID
		entry.ResourceID = &id
	}
	entry.OldValues = marshalAudit(before)
	entry.NewValues = marshalAudit(after)
	if err := sink.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("audit log write failed", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func marshalAudit(v interface{}) []byte {
	if v == nil {
		return nil
	}
	if b, ok := v.(*models.Booking); ok && b == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func slotBooked(existing *models.Booking) error {
	return appErrors.WithDetails(appErrors.ErrSlotBooked, "slot already booked", map[string]interface{}{
		"booking_id":         existing.ID,
		"holder_role":        existing.Role,
		"status":             existing.Status,
		"waitlist_available": true,
	})
}

func parseSlotKey(labCode, date string, period int) (models.SlotKey, error) {
	code := models.NormalizeLabCode(labCode)
	if code == "" {
		return models.SlotKey{}, appErrors.Clone(appErrors.ErrValidation, "lab_code is required")
	}
	day, err := models.ParseDate(date)
	if err != nil {
		return models.SlotKey{}, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	if _, ok := models.LookupPeriod(period); !ok {
		return models.SlotKey{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown period %d", period))
	}
	return models.SlotKey{LabCode: code, Date: day, Period: period}, nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func outcomeFor(err error) string {
	switch appErrors.FromError(err).Code {
	case appErrors.ErrSlotBooked.Code:
		return OutcomeConflict
	case appErrors.ErrInternal.Code:
		return OutcomeFailed
	}
	return OutcomeInvalid
}
