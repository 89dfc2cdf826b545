package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
)

func weekly(lab string, weekday time.Weekday, occurrences int, bookType models.BookingType, periods ...int) dto.ScheduleBatchRequest {
	dow := int(weekday)
	return dto.ScheduleBatchRequest{
		Mode:        dto.BatchModeWeekly,
		LabCode:     lab,
		DayOfWeek:   &dow,
		Occurrences: occurrences,
		Periods:     periods,
		Purpose:     "OS practicals",
		Type:        bookType,
	}
}

func subject(id string) *string { return &id }

func TestWeeklyDates(t *testing.T) {
	monday := day("2025-05-19")

	dates := WeeklyDates(monday, time.Monday, 3)
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-05-19", models.FormatDate(dates[0]))
	assert.Equal(t, "2025-05-26", models.FormatDate(dates[1]))
	assert.Equal(t, "2025-06-02", models.FormatDate(dates[2]))

	sundays := WeeklyDates(monday, time.Sunday, 2)
	assert.Equal(t, "2025-05-25", models.FormatDate(sundays[0]))
	assert.Equal(t, "2025-06-01", models.FormatDate(sundays[1]))

	assert.Empty(t, WeeklyDates(monday, time.Friday, 0))
}

func TestScheduleBatchStaffSkipsApprovedStudentCollisions(t *testing.T) {
	for _, bookType := range []models.BookingType{models.TypeRegular, models.TypeTest} {
		t.Run(string(bookType), func(t *testing.T) {
			env := newTestEnv(t)
			dates := WeeklyDates(day("2025-05-19"), time.Monday, 20)
			collisions := map[int]bool{2: true, 6: true, 11: true}
			for i := range collisions {
				env.seedBooking(student("stu-1"), models.SlotKey{LabCode: "CSE-1", Date: dates[i], Period: 2}, models.BookingApproved)
			}

			req := weekly("CSE-1", time.Monday, 20, bookType, 2)
			req.SubjectID = subject("sub-os")
			result, err := env.batch.ScheduleBatch(context.Background(), staff("staff-1"), req)
			require.NoError(t, err)

			assert.Equal(t, 20, result.Requested)
			assert.Equal(t, 17, result.SuccessCount)
			assert.Len(t, result.Bookings, 17)
			assert.Zero(t, result.Overridden)
			require.Len(t, result.Skipped, 3)
			for _, s := range result.Skipped {
				assert.Equal(t, appErrors.ErrSlotBooked.Code, s.Code)
			}

			for i, date := range dates {
				rows := env.bookings.atSlot(models.SlotKey{LabCode: "CSE-1", Date: date, Period: 2})
				require.Len(t, rows, 1)
				if collisions[i] {
					assert.True(t, rows[0].OwnedBy("stu-1"))
					continue
				}
				assert.True(t, rows[0].OwnedBy("staff-1"))
				assert.True(t, rows[0].IsRecurring)
				require.NotNil(t, rows[0].RecurrenceID)
				assert.Equal(t, result.RecurrenceID, *rows[0].RecurrenceID)
				assert.Equal(t, models.BookingPending, rows[0].Status)
			}

			events := env.events.all()
			require.Len(t, events, 1)
			assert.Equal(t, models.EventRecurring, events[0].Action)
			assert.Equal(t, 17, events[0].Count)
			assert.Equal(t, result.RecurrenceID, events[0].RecurrenceID)
			assert.Equal(t, []string{"CSE-1"}, events[0].LabCodes)

			assert.Equal(t, []string{models.AuditActionBatchSchedule}, env.audit.actions())
			assert.Equal(t, []string{"batch:staff-1"}, env.locker.locked)
			assert.Equal(t, []string{"batch:staff-1"}, env.locker.release)
		})
	}
}

func TestScheduleBatchAdminOverridesCollisions(t *testing.T) {
	env := newTestEnv(t)
	dates := WeeklyDates(day("2025-05-19"), time.Wednesday, 5)
	env.seedBooking(student("stu-1"), models.SlotKey{LabCode: "CSE-2", Date: dates[1], Period: 4}, models.BookingApproved)
	env.seedBooking(staff("staff-1"), models.SlotKey{LabCode: "CSE-2", Date: dates[3], Period: 4}, models.BookingPending)

	result, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), weekly("cse-2", time.Wednesday, 5, models.TypeEvent, 4))
	require.NoError(t, err)
	assert.Equal(t, 5, result.SuccessCount)
	assert.Equal(t, 2, result.Overridden)
	assert.Empty(t, result.Skipped)

	for _, date := range dates {
		key := models.SlotKey{LabCode: "CSE-2", Date: date, Period: 4}
		assert.Equal(t, 1, env.bookings.approvedAt(key))
		rows := env.bookings.atSlot(key)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].OwnedBy("adm-1"))
	}

	actions := env.audit.actions()
	assert.Len(t, actions, 3)
	assert.Equal(t, models.AuditActionBookingOverride, actions[0])
	assert.Equal(t, models.AuditActionBookingOverride, actions[1])
	assert.Equal(t, models.AuditActionBatchSchedule, actions[2])
}

func TestScheduleBatchSundayExamsAreSkipped(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), weekly("CSE-1", time.Sunday, 3, models.TypeExam, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 6, result.Requested)
	assert.Zero(t, result.SuccessCount)
	require.Len(t, result.Skipped, 6)
	for _, s := range result.Skipped {
		assert.Equal(t, appErrors.ErrValidation.Code, s.Code)
	}
	assert.Zero(t, env.bookings.count())
	assert.Empty(t, env.events.all())
	assert.Empty(t, env.audit.actions())
}

func TestScheduleBatchSkipsMaintenanceDays(t *testing.T) {
	env := newTestEnv(t)
	env.labs.labs["CSE-1"].MaintenanceWindows = []models.MaintenanceWindow{{
		ID: "mw-1", LabCode: "CSE-1", StartDate: day("2025-06-01"), EndDate: day("2025-06-10"),
	}}

	result, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), weekly("CSE-1", time.Tuesday, 4, models.TypeRegular, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, "2025-06-03", result.Skipped[0].Date)
	assert.Equal(t, "2025-06-10", result.Skipped[1].Date)
	assert.Equal(t, appErrors.ErrLabMaintenance.Code, result.Skipped[0].Code)
}

func TestScheduleBatchRejectsCaller(t *testing.T) {
	pending := staff("staff-2")
	pending.AccountStatus = models.AccountPending

	cases := []struct {
		name     string
		identity models.Identity
		code     string
	}{
		{"student", student("stu-1"), appErrors.ErrForbidden.Code},
		{"unapproved staff", pending, appErrors.ErrAccountNotApproved.Code},
		{"unknown role", models.Identity{UserID: "u", Role: "GUEST", AccountStatus: models.AccountApproved}, appErrors.ErrForbidden.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := weekly("CSE-1", time.Monday, 2, models.TypeRegular, 1)
			req.SubjectID = subject("sub-os")
			_, err := env.batch.ScheduleBatch(context.Background(), tc.identity, req)
			assertCode(t, err, tc.code)
			assert.Zero(t, env.bookings.count())
		})
	}
}

func TestScheduleBatchStaffSubjectRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.batch.ScheduleBatch(ctx, staff("staff-1"), weekly("CSE-1", time.Monday, 2, models.TypeRegular, 1))
	assertCode(t, err, appErrors.ErrValidation.Code)

	req := weekly("CSE-1", time.Monday, 2, models.TypeRegular, 1)
	req.SubjectID = subject("sub-missing")
	_, err = env.batch.ScheduleBatch(ctx, staff("staff-1"), req)
	assertCode(t, err, appErrors.ErrNotFound.Code)

	assert.Zero(t, env.bookings.count())
	assert.Empty(t, env.locker.locked)
}

func TestScheduleBatchRequestShapes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  dto.ScheduleBatchRequest
	}{
		{"weekly without weekday", dto.ScheduleBatchRequest{Mode: dto.BatchModeWeekly, LabCode: "CSE-1", Periods: []int{1}, Purpose: "p", Type: models.TypeRegular}},
		{"weekly without periods", dto.ScheduleBatchRequest{Mode: dto.BatchModeWeekly, LabCode: "CSE-1", DayOfWeek: new(int), Purpose: "p", Type: models.TypeRegular}},
		{"dates without dates", dto.ScheduleBatchRequest{Mode: dto.BatchModeDates, LabCode: "CSE-1", Periods: []int{1}, Purpose: "p", Type: models.TypeRegular}},
		{"batch without entries", dto.ScheduleBatchRequest{Mode: dto.BatchModeBatch, Purpose: "p", Type: models.TypeRegular}},
		{"unknown mode", dto.ScheduleBatchRequest{Mode: "MONTHLY", Purpose: "p", Type: models.TypeRegular}},
		{"too many slots", weekly("CSE-1", time.Monday, 52, models.TypeRegular, 1, 2, 4, 5, 7, 8, 9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.batch.ScheduleBatch(ctx, admin("adm-1"), tc.req)
			assertCode(t, err, appErrors.ErrValidation.Code)
		})
	}
	assert.Zero(t, env.bookings.count())
}

func TestScheduleBatchRejectsMalformedFieldsUpFront(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	party := models.BookingType("PARTY")

	withSubjectID := func(req dto.ScheduleBatchRequest) dto.ScheduleBatchRequest {
		req.SubjectID = subject("sub-os")
		return req
	}
	cases := []struct {
		name string
		req  dto.ScheduleBatchRequest
	}{
		{"unknown weekly type", withSubjectID(weekly("CSE-1", time.Monday, 20, party, 2))},
		{"unknown weekly period", withSubjectID(weekly("CSE-1", time.Monday, 4, models.TypeRegular, 2, 12))},
		{"unknown entry type", withSubjectID(dto.ScheduleBatchRequest{
			Mode:    dto.BatchModeBatch,
			Purpose: "Mid term",
			Type:    models.TypeRegular,
			Entries: []dto.BatchEntry{
				{LabCode: "CSE-1", Date: "2025-05-20", Periods: []int{1}},
				{LabCode: "CSE-2", Date: "2025-05-21", Periods: []int{4}, Type: &party},
			},
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := env.batch.ScheduleBatch(ctx, staff("staff-1"), tc.req)
			assertCode(t, err, appErrors.ErrValidation.Code)
			assert.Nil(t, result)
		})
	}
	assert.Zero(t, env.bookings.count())
	assert.Empty(t, env.locker.locked)
}

func TestScheduleBatchDatesModeDedupes(t *testing.T) {
	env := newTestEnv(t)

	req := dto.ScheduleBatchRequest{
		Mode:    dto.BatchModeDates,
		LabCode: "CSE-1",
		Dates:   []string{"2025-05-22", "2025-05-20", "2025-05-22"},
		Periods: []int{7},
		Purpose: "Review",
		Type:    models.TypeProjectReview,
	}
	result, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), req)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requested)
	require.Len(t, result.Bookings, 2)
	assert.Equal(t, "2025-05-20", models.FormatDate(result.Bookings[0].Date))
	assert.Equal(t, "2025-05-22", models.FormatDate(result.Bookings[1].Date))
}

func TestScheduleBatchEntriesMode(t *testing.T) {
	env := newTestEnv(t)
	exam := models.TypeExam

	req := dto.ScheduleBatchRequest{
		Mode:      dto.BatchModeBatch,
		Purpose:   "Mid term",
		Type:      models.TypeRegular,
		SubjectID: subject("sub-os"),
		Entries: []dto.BatchEntry{
			{LabCode: "CSE-1", Date: "2025-05-20", Periods: []int{1, 2}},
			{LabCode: "cse-2", Date: "2025-05-21", Periods: []int{4}, Purpose: "Networks exam", Type: &exam},
			{LabCode: "CSE-1", Date: "2025-05-20", Periods: []int{2}},
		},
	}
	result, err := env.batch.ScheduleBatch(context.Background(), staff("staff-1"), req)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Requested)
	assert.Equal(t, 3, result.SuccessCount)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipDuplicateSlot, result.Skipped[0].Code)

	var networks *models.Booking
	for i := range result.Bookings {
		if result.Bookings[i].LabCode == "CSE-2" {
			networks = &result.Bookings[i]
		}
	}
	require.NotNil(t, networks)
	assert.Equal(t, models.TypeExam, networks.Type)
	assert.Equal(t, "Networks exam", networks.Purpose)
	require.NotNil(t, networks.SubjectID)
	assert.Equal(t, "sub-os", *networks.SubjectID)

	events := env.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"CSE-1", "CSE-2"}, events[0].LabCodes)
}

func TestScheduleBatchAbortsOnSystemicFailure(t *testing.T) {
	env := newTestEnv(t)
	env.bookings.failAfter = 2
	env.bookings.failErr = errors.New("connection refused")

	result, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), weekly("CSE-1", time.Thursday, 5, models.TypeRegular, 1))
	assertCode(t, err, appErrors.ErrInternal.Code)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 5, result.Requested)
	assert.Equal(t, 2, env.bookings.count())

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, result.RecurrenceID, details["recurrence_id"])
	assert.Equal(t, 2, details["success_count"])

	events := env.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Count)
	assert.Len(t, env.locker.release, 1)
}

func TestScheduleBatchLockContention(t *testing.T) {
	env := newTestEnv(t)
	env.locker.held = true

	_, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), weekly("CSE-1", time.Monday, 2, models.TypeRegular, 1))
	assertCode(t, err, appErrors.ErrBatchInProgress.Code)
	assert.Zero(t, env.bookings.count())
}

func TestScheduleBatchContinuesWhenLockBackendFails(t *testing.T) {
	env := newTestEnv(t)
	env.locker.err = errors.New("redis: connection refused")

	result, err := env.batch.ScheduleBatch(context.Background(), admin("adm-1"), weekly("CSE-1", time.Monday, 2, models.TypeRegular, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Empty(t, env.locker.release)
}
