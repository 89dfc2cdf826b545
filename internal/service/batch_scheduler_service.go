package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/lock"
)

// SkipDuplicateSlot marks a slot generated twice by the same submission.
const SkipDuplicateSlot = "DUPLICATE_SLOT"

// BatchConfig tunes recurring expansion and guard rails.
type BatchConfig struct {
	RecurrenceWeeks int
	MaxSlots        int
	LockTTL         time.Duration
}

// BatchSchedulerService expands weekly, explicit-date and pre-expanded
// submissions into single-slot reservations with partial success.
type BatchSchedulerService struct {
	reservations *ReservationService
	locker       lock.Locker
	audit        auditSink
	events       EventPublisher
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          BatchConfig
}

// NewBatchSchedulerService constructs the batch scheduler.
func NewBatchSchedulerService(reservations *ReservationService, locker lock.Locker, audit auditSink, events EventPublisher, metrics *MetricsService, cfg BatchConfig, validate *validator.Validate, logger *zap.Logger) *BatchSchedulerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	if cfg.RecurrenceWeeks <= 0 {
		cfg.RecurrenceWeeks = 20
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &BatchSchedulerService{
		reservations: reservations,
		locker:       locker,
		audit:        audit,
		events:       events,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
	}
}

// batchEntry is the normalised shape every request mode expands to.
type batchEntry struct {
	labCode   string
	dates     []time.Time
	periods   []int
	purpose   string
	bookType  models.BookingType
	subjectID *string
}

func (e batchEntry) slots() int { return len(e.dates) * len(e.periods) }

// ScheduleBatch reserves every generated slot independently. Slots that fail a
// business rule are reported in Skipped; a systemic failure stops processing
// and is returned together with the partial result.
func (s *BatchSchedulerService) ScheduleBatch(ctx context.Context, identity models.Identity, req dto.ScheduleBatchRequest) (*dto.ScheduleBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	switch {
	case !identity.Role.Valid():
		return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	case identity.Role == models.RoleStudent:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff and admins can schedule batches")
	case !identity.Approved():
		return nil, appErrors.ErrAccountNotApproved
	}

	entries, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	requested := 0
	for _, e := range entries {
		requested += e.slots()
	}
	if requested == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch generates no slots")
	}
	if requested > s.cfg.MaxSlots {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("batch generates %d slots, limit is %d", requested, s.cfg.MaxSlots))
	}

	if err := s.verifySubjects(ctx, entries, identity.Role == models.RoleStaff); err != nil {
		return nil, err
	}

	lockKey := "batch:" + identity.UserID
	acquired, err := s.locker.Lock(ctx, lockKey, s.cfg.LockTTL)
	switch {
	case err != nil:
		s.logger.Warn("batch lock unavailable, continuing without it", zap.String("user_id", identity.UserID), zap.Error(err))
	case !acquired:
		return nil, appErrors.ErrBatchInProgress
	default:
		defer func() {
			if err := s.locker.Unlock(context.Background(), lockKey); err != nil {
				s.logger.Warn("batch lock release failed", zap.String("user_id", identity.UserID), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result := &dto.ScheduleBatchResult{
		RecurrenceID: uuid.NewString(),
		Requested:    requested,
		Skipped:      []dto.SkippedSlot{},
		Bookings:     []models.Booking{},
	}
	abortErr := s.process(ctx, identity, req.BannerOptions, entries, result)
	result.SuccessCount = len(result.Bookings)
	s.metrics.ObserveBatch(time.Since(start), result.SuccessCount, result.Overridden, len(result.Skipped))

	if result.SuccessCount > 0 {
		s.summarize(ctx, identity, req.Mode, result)
	}

	s.logger.Info("batch processed",
		zap.String("recurrence_id", result.RecurrenceID),
		zap.String("mode", string(req.Mode)),
		zap.Int("requested", result.Requested),
		zap.Int("created", result.SuccessCount),
		zap.Int("overridden", result.Overridden),
		zap.Int("skipped", len(result.Skipped)),
		zap.Bool("aborted", abortErr != nil),
	)

	if abortErr != nil {
		appErr := appErrors.FromError(abortErr)
		return result, appErrors.WithDetails(appErr, appErr.Message, map[string]interface{}{
			"recurrence_id": result.RecurrenceID,
			"success_count": result.SuccessCount,
			"requested":     result.Requested,
		})
	}
	return result, nil
}

func (s *BatchSchedulerService) process(ctx context.Context, identity models.Identity, banner dto.BannerOptions, entries []batchEntry, result *dto.ScheduleBatchResult) error {
	seen := make(map[string]struct{}, result.Requested)
	opts := reserveOptions{recurrenceID: result.RecurrenceID, batch: true, subjectVerified: true}

	for _, entry := range entries {
		for _, date := range entry.dates {
			for _, period := range entry.periods {
				key := models.SlotKey{LabCode: entry.labCode, Date: date, Period: period}
				if _, dup := seen[key.String()]; dup {
					result.Skipped = append(result.Skipped, skipped(key, SkipDuplicateSlot, "slot already requested in this batch"))
					continue
				}
				seen[key.String()] = struct{}{}

				req := dto.ReserveSlotRequest{
					LabCode:       entry.labCode,
					Date:          models.FormatDate(date),
					Period:        period,
					Purpose:       entry.purpose,
					Type:          entry.bookType,
					SubjectID:     entry.subjectID,
					BannerOptions: banner,
				}
				res, err := s.reservations.reserve(ctx, identity, req, opts)
				if err != nil {
					if !skippable(err) {
						return err
					}
					appErr := appErrors.FromError(err)
					result.Skipped = append(result.Skipped, skipped(key, appErr.Code, appErr.Message))
					continue
				}
				if res.overridden != nil {
					result.Overridden++
					writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionBookingOverride, "booking", res.booking.ID, res.overridden, res.booking)
				}
				result.Bookings = append(result.Bookings, *res.booking)
			}
		}
	}
	return nil
}

func (s *BatchSchedulerService) summarize(ctx context.Context, identity models.Identity, mode dto.BatchMode, result *dto.ScheduleBatchResult) {
	labSet := make(map[string]struct{})
	for _, b := range result.Bookings {
		labSet[b.LabCode] = struct{}{}
	}
	labs := make([]string, 0, len(labSet))
	for code := range labSet {
		labs = append(labs, code)
	}
	sort.Strings(labs)

	writeAudit(ctx, s.audit, s.logger, identity, models.AuditActionBatchSchedule, "recurrence", result.RecurrenceID, nil, map[string]interface{}{
		"mode":          mode,
		"requested":     result.Requested,
		"success_count": result.SuccessCount,
		"overridden":    result.Overridden,
		"skipped":       len(result.Skipped),
		"labs":          labs,
	})
	if s.events != nil {
		s.events.Publish(models.BookingEvent{
			Action:       models.EventRecurring,
			RecurrenceID: result.RecurrenceID,
			LabCodes:     labs,
			Count:        result.SuccessCount,
			OccurredAt:   time.Now().UTC(),
		})
	}
}

func (s *BatchSchedulerService) normalize(req dto.ScheduleBatchRequest) ([]batchEntry, error) {
	entries, err := s.expand(req)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if err := checkEntry(e, i, len(entries) > 1 || req.Mode == dto.BatchModeBatch); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// checkEntry rejects fields that would fail for every generated slot alike.
func checkEntry(e batchEntry, index int, indexed bool) error {
	field := func(name string) string {
		if indexed {
			return fmt.Sprintf("entries[%d].%s", index, name)
		}
		return name
	}
	if !e.bookType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s: unknown booking type %q", field("type"), e.bookType))
	}
	for _, period := range e.periods {
		if _, ok := models.LookupPeriod(period); !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s: unknown period %d", field("periods"), period))
		}
	}
	return nil
}

func (s *BatchSchedulerService) expand(req dto.ScheduleBatchRequest) ([]batchEntry, error) {
	purpose := strings.TrimSpace(req.Purpose)
	subjectID := trimmed(req.SubjectID)

	switch req.Mode {
	case dto.BatchModeWeekly:
		if req.DayOfWeek == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "day_of_week is required for WEEKLY mode")
		}
		if err := requireLabAndPeriods(req.LabCode, req.Periods); err != nil {
			return nil, err
		}
		occurrences := req.Occurrences
		if occurrences <= 0 {
			occurrences = s.cfg.RecurrenceWeeks
		}
		dates := WeeklyDates(s.reservations.Today(), time.Weekday(*req.DayOfWeek), occurrences)
		return []batchEntry{{
			labCode:   models.NormalizeLabCode(req.LabCode),
			dates:     dates,
			periods:   req.Periods,
			purpose:   purpose,
			bookType:  req.Type,
			subjectID: subjectID,
		}}, nil

	case dto.BatchModeDates:
		if len(req.Dates) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "dates are required for DATES mode")
		}
		if err := requireLabAndPeriods(req.LabCode, req.Periods); err != nil {
			return nil, err
		}
		dates, err := parseDates(req.Dates)
		if err != nil {
			return nil, err
		}
		return []batchEntry{{
			labCode:   models.NormalizeLabCode(req.LabCode),
			dates:     dates,
			periods:   req.Periods,
			purpose:   purpose,
			bookType:  req.Type,
			subjectID: subjectID,
		}}, nil

	case dto.BatchModeBatch:
		if len(req.Entries) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entries are required for BATCH mode")
		}
		entries := make([]batchEntry, 0, len(req.Entries))
		for i, raw := range req.Entries {
			date, err := models.ParseDate(raw.Date)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("entries[%d].date must be YYYY-MM-DD", i))
			}
			entry := batchEntry{
				labCode:   models.NormalizeLabCode(raw.LabCode),
				dates:     []time.Time{date},
				periods:   raw.Periods,
				purpose:   purpose,
				bookType:  req.Type,
				subjectID: subjectID,
			}
			if p := strings.TrimSpace(raw.Purpose); p != "" {
				entry.purpose = p
			}
			if raw.Type != nil && *raw.Type != "" {
				entry.bookType = *raw.Type
			}
			if sid := trimmed(raw.SubjectID); sid != nil {
				entry.subjectID = sid
			}
			entries = append(entries, entry)
		}
		return entries, nil
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown batch mode %q", req.Mode))
}

// verifySubjects resolves every referenced subject once.
func (s *BatchSchedulerService) verifySubjects(ctx context.Context, entries []batchEntry, required bool) error {
	checked := make(map[string]struct{})
	for i, e := range entries {
		if e.subjectID == nil {
			if !required {
				continue
			}
			if len(entries) == 1 {
				return appErrors.Clone(appErrors.ErrValidation, "subject is required for staff bookings")
			}
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("entries[%d] requires a subject for staff bookings", i))
		}
		if _, ok := checked[*e.subjectID]; ok {
			continue
		}
		if err := s.reservations.ensureSubject(ctx, *e.subjectID); err != nil {
			return err
		}
		checked[*e.subjectID] = struct{}{}
	}
	return nil
}

// WeeklyDates returns count dates falling on weekday, the first on or after from.
func WeeklyDates(from time.Time, weekday time.Weekday, count int) []time.Time {
	offset := (int(weekday) - int(from.Weekday()) + 7) % 7
	first := from.AddDate(0, 0, offset)
	dates := make([]time.Time, count)
	for i := range dates {
		dates[i] = first.AddDate(0, 0, 7*i)
	}
	return dates
}

func parseDates(raw []string) ([]time.Time, error) {
	seen := make(map[string]struct{}, len(raw))
	dates := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		d, err := models.ParseDate(r)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid date %q", r))
		}
		if _, dup := seen[models.FormatDate(d)]; dup {
			continue
		}
		seen[models.FormatDate(d)] = struct{}{}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func requireLabAndPeriods(labCode string, periods []int) error {
	if models.NormalizeLabCode(labCode) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "lab_code is required")
	}
	if len(periods) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "at least one period is required")
	}
	return nil
}

// skippable reports whether a per-slot failure is a business-rule rejection
// rather than a systemic fault.
func skippable(err error) bool {
	switch appErrors.FromError(err).Code {
	case appErrors.ErrValidation.Code,
		appErrors.ErrConflict.Code,
		appErrors.ErrSlotBooked.Code,
		appErrors.ErrLabMaintenance.Code,
		appErrors.ErrNotFound.Code:
		return true
	}
	return false
}

func skipped(key models.SlotKey, code, reason string) dto.SkippedSlot {
	return dto.SkippedSlot{
		LabCode: key.LabCode,
		Date:    models.FormatDate(key.Date),
		Period:  key.Period,
		Code:    code,
		Reason:  reason,
	}
}
