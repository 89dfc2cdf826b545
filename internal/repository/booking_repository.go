package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lab-booking-api/internal/models"
)

const (
	activeSlotConstraint = "ux_bookings_active_slot"
	waitlistConstraint   = "ux_waitlist_entries_booking_user"

	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqInvalidText         = "22P02"
)

var (
	// ErrSlotTaken is returned when the store already holds an occupying booking for the slot.
	ErrSlotTaken = errors.New("slot already has an occupying booking")
	// ErrSlotChanged is returned when the booking expected to be replaced is no longer active.
	ErrSlotChanged = errors.New("slot occupant changed concurrently")
	// ErrStaleState is returned when a conditional status transition matched no row.
	ErrStaleState = errors.New("booking is not in the expected state")
	// ErrDuplicateWaitlist is returned when the user already queues for the booking.
	ErrDuplicateWaitlist = errors.New("user already on waitlist")
)

const bookingColumns = `id, lab_code, date, period, created_by, creator_name, role, type, purpose, subject_id, status, admin_reason, priority, is_recurring, recurrence_id, show_in_banner, banner_color, created_at, updated_at`

const insertBookingQuery = `INSERT INTO bookings (` + bookingColumns + `) VALUES (:id, :lab_code, :date, :period, :created_by, :creator_name, :role, :type, :purpose, :subject_id, :status, :admin_reason, :priority, :is_recurring, :recurrence_id, :show_in_banner, :banner_color, :created_at, :updated_at)`

// BookingRepository persists bookings and their waitlists.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// FindByID loads a booking and its waitlist.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		if isViolation(err, pqInvalidText, "") {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	waitlist, err := r.ListWaitlist(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	booking.Waitlist = waitlist
	return &booking, nil
}

// FindActiveBySlot returns the pending or approved booking occupying a slot.
func (r *BookingRepository) FindActiveBySlot(ctx context.Context, key models.SlotKey) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE lab_code = $1 AND date = $2 AND period = $3 AND status IN ('PENDING', 'APPROVED')`
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, key.LabCode, key.Date, key.Period); err != nil {
		return nil, err
	}
	waitlist, err := r.ListWaitlist(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	booking.Waitlist = waitlist
	return &booking, nil
}

// ListActiveByLabDate returns occupying bookings of a lab's day with their waitlists.
func (r *BookingRepository) ListActiveByLabDate(ctx context.Context, labCode string, date time.Time) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE lab_code = $1 AND date = $2 AND status IN ('PENDING', 'APPROVED') ORDER BY period ASC`
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, labCode, date); err != nil {
		return nil, fmt.Errorf("list bookings by lab date: %w", err)
	}
	if err := r.attachWaitlists(ctx, bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// List returns bookings with optional filtering and pagination.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	base := "FROM bookings WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.LabCode != "" {
		conditions = append(conditions, fmt.Sprintf("lab_code = $%d", len(args)+1))
		args = append(args, filter.LabCode)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY date ASC, period ASC, lab_code ASC LIMIT %d OFFSET %d", bookingColumns, base, size, offset)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}
	return bookings, total, nil
}

// Create inserts a booking. The partial unique index on occupying bookings
// turns a concurrent double booking into ErrSlotTaken.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	prepareBooking(booking)
	if _, err := r.db.NamedExecContext(ctx, insertBookingQuery, booking); err != nil {
		if isViolation(err, pqUniqueViolation, activeSlotConstraint) {
			return ErrSlotTaken
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// Replace deletes the occupying booking existingID and inserts booking in one
// transaction. The delete is conditional on the old booking still occupying.
func (r *BookingRepository) Replace(ctx context.Context, existingID string, booking *models.Booking) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace booking: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = deleteOccupying(ctx, tx, existingID); err != nil {
		return err
	}

	prepareBooking(booking)
	if _, err = tx.NamedExecContext(ctx, insertBookingQuery, booking); err != nil {
		if isViolation(err, pqUniqueViolation, activeSlotConstraint) {
			err = ErrSlotTaken
			return err
		}
		return fmt.Errorf("insert replacement booking: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace booking: %w", err)
	}
	return nil
}

// Transfer hands the slot held by fromID to booking, moving every other queued
// entry onto the new booking and consuming promotedUserID's entry.
func (r *BookingRepository) Transfer(ctx context.Context, fromID string, booking *models.Booking, promotedUserID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer booking: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var entries []models.WaitlistEntry
	const waitQuery = `SELECT id, booking_id, user_id, email, requested_at FROM waitlist_entries WHERE booking_id = $1 ORDER BY requested_at ASC, id ASC FOR UPDATE`
	if err = tx.SelectContext(ctx, &entries, waitQuery, fromID); err != nil {
		return fmt.Errorf("lock waitlist: %w", err)
	}

	if err = deleteOccupying(ctx, tx, fromID); err != nil {
		return err
	}

	prepareBooking(booking)
	if _, err = tx.NamedExecContext(ctx, insertBookingQuery, booking); err != nil {
		if isViolation(err, pqUniqueViolation, activeSlotConstraint) {
			err = ErrSlotTaken
			return err
		}
		return fmt.Errorf("insert promoted booking: %w", err)
	}

	remaining := make([]models.WaitlistEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.UserID == promotedUserID {
			continue
		}
		entry.ID = uuid.NewString()
		entry.BookingID = booking.ID
		if _, err = tx.NamedExecContext(ctx, insertWaitlistQuery, entry); err != nil {
			return fmt.Errorf("carry waitlist entry: %w", err)
		}
		remaining = append(remaining, entry)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer booking: %w", err)
	}
	booking.Waitlist = remaining
	return nil
}

// Delete removes a booking; its waitlist cascades.
func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatus transitions a booking from one status to another.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus, reason *string) error {
	const query = `UPDATE bookings SET status = $1, admin_reason = $2, updated_at = $3 WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, to, reason, time.Now().UTC(), id, from)
	if err != nil {
		if isViolation(err, pqUniqueViolation, activeSlotConstraint) {
			return ErrSlotTaken
		}
		return fmt.Errorf("update booking status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrStaleState
	}
	return nil
}

const insertWaitlistQuery = `INSERT INTO waitlist_entries (id, booking_id, user_id, email, requested_at) VALUES (:id, :booking_id, :user_id, :email, :requested_at)`

// AddWaitlistEntry appends a queue entry to a booking.
func (r *BookingRepository) AddWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertWaitlistQuery, entry); err != nil {
		switch {
		case isViolation(err, pqUniqueViolation, waitlistConstraint):
			return ErrDuplicateWaitlist
		case isViolation(err, pqForeignKeyViolation, ""):
			return sql.ErrNoRows
		}
		return fmt.Errorf("add waitlist entry: %w", err)
	}
	return nil
}

// RemoveWaitlistEntry drops a user's queue entry.
func (r *BookingRepository) RemoveWaitlistEntry(ctx context.Context, bookingID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE booking_id = $1 AND user_id = $2`, bookingID, userID)
	if err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListWaitlist returns queue entries in FIFO order.
func (r *BookingRepository) ListWaitlist(ctx context.Context, bookingID string) ([]models.WaitlistEntry, error) {
	const query = `SELECT id, booking_id, user_id, email, requested_at FROM waitlist_entries WHERE booking_id = $1 ORDER BY requested_at ASC, id ASC`
	entries := []models.WaitlistEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, bookingID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

func (r *BookingRepository) attachWaitlists(ctx context.Context, bookings []models.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]string, len(bookings))
	index := make(map[string]int, len(bookings))
	for i := range bookings {
		ids[i] = bookings[i].ID
		index[bookings[i].ID] = i
		bookings[i].Waitlist = []models.WaitlistEntry{}
	}

	query, args, err := sqlx.In(`SELECT id, booking_id, user_id, email, requested_at FROM waitlist_entries WHERE booking_id IN (?) ORDER BY requested_at ASC, id ASC`, ids)
	if err != nil {
		return fmt.Errorf("build waitlist query: %w", err)
	}
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("list waitlists: %w", err)
	}
	for _, entry := range entries {
		if i, ok := index[entry.BookingID]; ok {
			bookings[i].Waitlist = append(bookings[i].Waitlist, entry)
		}
	}
	return nil
}

func deleteOccupying(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1 AND status IN ('PENDING', 'APPROVED')`, id)
	if err != nil {
		return fmt.Errorf("delete occupying booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete occupying booking: %w", err)
	}
	if affected == 0 {
		return ErrSlotChanged
	}
	return nil
}

func prepareBooking(booking *models.Booking) {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	if booking.Waitlist == nil {
		booking.Waitlist = []models.WaitlistEntry{}
	}
}

func isViolation(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
