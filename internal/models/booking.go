package models

import "time"

// BookingStatus represents the moderation lifecycle of a booking.
type BookingStatus string

const (
	BookingPending  BookingStatus = "PENDING"
	BookingApproved BookingStatus = "APPROVED"
	BookingRejected BookingStatus = "REJECTED"
)

// Occupying reports whether a booking in this status holds its slot.
func (s BookingStatus) Occupying() bool {
	return s == BookingPending || s == BookingApproved
}

// BookingType classifies what a slot is used for.
type BookingType string

const (
	TypeRegular              BookingType = "REGULAR"
	TypeTest                 BookingType = "TEST"
	TypeExam                 BookingType = "EXAM"
	TypeSemesterExam         BookingType = "SEMESTER_EXAM"
	TypeEvent                BookingType = "EVENT"
	TypeProjectReview        BookingType = "PROJECT_REVIEW"
	TypeWorkshop             BookingType = "WORKSHOP"
	TypePlacementPreparation BookingType = "PLACEMENT_PREPARATION"
	TypeStudies              BookingType = "STUDIES"
	TypeLabPractice          BookingType = "LAB_PRACTICE"
	TypeProgression          BookingType = "PROGRESSION"
	TypeOther                BookingType = "OTHER"
)

// BookingTypes lists the full taxonomy in display order.
var BookingTypes = []BookingType{
	TypeRegular, TypeTest, TypeExam, TypeSemesterExam, TypeEvent, TypeProjectReview,
	TypeWorkshop, TypePlacementPreparation, TypeStudies, TypeLabPractice, TypeProgression, TypeOther,
}

// Valid reports whether t belongs to the taxonomy.
func (t BookingType) Valid() bool {
	for _, known := range BookingTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Examination reports whether t is a test or exam kind, which cannot run on Sundays.
func (t BookingType) Examination() bool {
	return t == TypeTest || t == TypeExam || t == TypeSemesterExam
}

// Booking is a reservation of exactly one slot.
type Booking struct {
	ID           string          `db:"id" json:"id"`
	LabCode      string          `db:"lab_code" json:"lab_code"`
	Date         time.Time       `db:"date" json:"date"`
	Period       int             `db:"period" json:"period"`
	CreatedBy    *string         `db:"created_by" json:"created_by,omitempty"`
	CreatorName  string          `db:"creator_name" json:"creator_name"`
	Role         UserRole        `db:"role" json:"role"`
	Type         BookingType     `db:"type" json:"type"`
	Purpose      string          `db:"purpose" json:"purpose"`
	SubjectID    *string         `db:"subject_id" json:"subject_id,omitempty"`
	Status       BookingStatus   `db:"status" json:"status"`
	AdminReason  *string         `db:"admin_reason" json:"admin_reason,omitempty"`
	Priority     int             `db:"priority" json:"priority"`
	IsRecurring  bool            `db:"is_recurring" json:"is_recurring"`
	RecurrenceID *string         `db:"recurrence_id" json:"recurrence_id,omitempty"`
	ShowInBanner bool            `db:"show_in_banner" json:"show_in_banner"`
	BannerColor  *string         `db:"banner_color" json:"banner_color,omitempty"`
	Waitlist     []WaitlistEntry `db:"-" json:"waitlist"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Key returns the slot the booking occupies.
func (b *Booking) Key() SlotKey {
	return SlotKey{LabCode: b.LabCode, Date: b.Date, Period: b.Period}
}

// OwnedBy reports whether userID created the booking.
func (b *Booking) OwnedBy(userID string) bool {
	return b.CreatedBy != nil && userID != "" && *b.CreatedBy == userID
}

// Waitlisted reports whether userID already queues for this booking.
func (b *Booking) Waitlisted(userID string) bool {
	for _, entry := range b.Waitlist {
		if entry.UserID == userID {
			return true
		}
	}
	return false
}

// WaitlistEntry is one queued claim on an occupied slot.
type WaitlistEntry struct {
	ID          string    `db:"id" json:"id"`
	BookingID   string    `db:"booking_id" json:"booking_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Email       string    `db:"email" json:"email"`
	RequestedAt time.Time `db:"requested_at" json:"requested_at"`
}

// BookingFilter captures criteria for listing bookings.
type BookingFilter struct {
	LabCode   string
	From      *time.Time
	To        *time.Time
	Status    *BookingStatus
	CreatedBy string
	Page      int
	PageSize  int
}
