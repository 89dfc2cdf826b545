package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-booking-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "postgres")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var bookingRowColumns = []string{"id", "lab_code", "date", "period", "created_by", "creator_name", "role", "type", "purpose", "subject_id", "status", "admin_reason", "priority", "is_recurring", "recurrence_id", "show_in_banner", "banner_color", "created_at", "updated_at"}

var waitlistRowColumns = []string{"id", "booking_id", "user_id", "email", "requested_at"}

func sampleBooking() *models.Booking {
	owner := "user-1"
	return &models.Booking{
		LabCode:     "CSE-1",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Period:      2,
		CreatedBy:   &owner,
		CreatorName: "Asha",
		Role:        models.RoleStudent,
		Type:        models.TypeRegular,
		Purpose:     "project work",
		Status:      models.BookingPending,
		Priority:    1,
	}
}

func TestBookingFindActiveBySlotLoadsWaitlist(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	now := time.Now()
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(bookingRowColumns).
		AddRow("b1", "CSE-1", date, 2, "user-1", "Asha", "STUDENT", "REGULAR", "project", nil, "PENDING", nil, 1, false, nil, false, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE lab_code = $1 AND date = $2 AND period = $3 AND status IN ('PENDING', 'APPROVED')")).
		WithArgs("CSE-1", date, 2).
		WillReturnRows(rows)
	waitRows := sqlmock.NewRows(waitlistRowColumns).
		AddRow("w1", "b1", "user-2", "b@example.com", now).
		AddRow("w2", "b1", "user-3", "c@example.com", now.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta("FROM waitlist_entries WHERE booking_id = $1 ORDER BY requested_at ASC, id ASC")).
		WithArgs("b1").
		WillReturnRows(waitRows)

	booking, err := repo.FindActiveBySlot(context.Background(), models.SlotKey{LabCode: "CSE-1", Date: date, Period: 2})
	require.NoError(t, err)
	assert.Equal(t, "b1", booking.ID)
	require.Len(t, booking.Waitlist, 2)
	assert.Equal(t, "user-2", booking.Waitlist[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingFindActiveBySlotNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectQuery("FROM bookings WHERE lab_code").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveBySlot(context.Background(), models.SlotKey{LabCode: "CSE-1", Date: time.Now(), Period: 1})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingFindByIDInvalidUUIDIsNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectQuery("FROM bookings WHERE id = \\$1").
		WithArgs("abc").
		WillReturnError(&pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`})

	_, err := repo.FindByID(context.Background(), "abc")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec("INSERT INTO bookings").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_bookings_active_slot"})

	err := repo.Create(context.Background(), sampleBooking())
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))

	booking := sampleBooking()
	require.NoError(t, repo.Create(context.Background(), booking))
	assert.NotEmpty(t, booking.ID)
	assert.False(t, booking.CreatedAt.IsZero())
	assert.NotNil(t, booking.Waitlist)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingReplaceCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bookings WHERE id = $1 AND status IN ('PENDING', 'APPROVED')")).
		WithArgs("old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Replace(context.Background(), "old", sampleBooking()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingReplaceRollsBackWhenOccupantChanged(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM bookings").WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Replace(context.Background(), "old", sampleBooking())
	assert.ErrorIs(t, err, ErrSlotChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingTransferCarriesRemainingWaitlist(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM waitlist_entries WHERE booking_id = \\$1 ORDER BY requested_at ASC, id ASC FOR UPDATE").
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows(waitlistRowColumns).
			AddRow("w1", "old", "user-2", "b@example.com", now).
			AddRow("w2", "old", "user-3", "c@example.com", now.Add(time.Second)))
	mock.ExpectExec("DELETE FROM bookings").WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO waitlist_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	booking := sampleBooking()
	require.NoError(t, repo.Transfer(context.Background(), "old", booking, "user-2"))
	require.Len(t, booking.Waitlist, 1)
	assert.Equal(t, "user-3", booking.Waitlist[0].UserID)
	assert.Equal(t, booking.ID, booking.Waitlist[0].BookingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingUpdateStatusStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = $1, admin_reason = $2, updated_at = $3 WHERE id = $4 AND status = $5")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "b1", models.BookingPending, models.BookingApproved, nil)
	assert.ErrorIs(t, err, ErrStaleState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingAddWaitlistDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec("INSERT INTO waitlist_entries").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_waitlist_entries_booking_user"})

	err := repo.AddWaitlistEntry(context.Background(), &models.WaitlistEntry{BookingID: "b1", UserID: "user-2", Email: "b@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateWaitlist)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRemoveWaitlistMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec("DELETE FROM waitlist_entries").WithArgs("b1", "user-9").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RemoveWaitlistEntry(context.Background(), "b1", "user-9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	status := models.BookingApproved
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE 1=1 AND lab_code = $1 AND status = $2 ORDER BY date ASC, period ASC, lab_code ASC LIMIT 20 OFFSET 0")).
		WithArgs("CSE-1", status).
		WillReturnRows(sqlmock.NewRows(bookingRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bookings WHERE 1=1 AND lab_code = $1 AND status = $2")).
		WithArgs("CSE-1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	bookings, total, err := repo.List(context.Background(), models.BookingFilter{LabCode: "CSE-1", Status: &status})
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
