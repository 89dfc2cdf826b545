package dto

import "github.com/noah-isme/lab-booking-api/internal/models"

// BatchMode selects how a batch submission expands into slots.
type BatchMode string

const (
	BatchModeWeekly BatchMode = "WEEKLY"
	BatchModeDates  BatchMode = "DATES"
	BatchModeBatch  BatchMode = "BATCH"
)

// ScheduleBatchRequest covers the weekly, explicit-date and pre-expanded shapes.
type ScheduleBatchRequest struct {
	Mode        BatchMode          `json:"mode" validate:"required,oneof=WEEKLY DATES BATCH"`
	LabCode     string             `json:"lab_code" validate:"max=32"`
	DayOfWeek   *int               `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	Occurrences int                `json:"occurrences" validate:"omitempty,min=1,max=52"`
	Dates       []string           `json:"dates" validate:"omitempty,dive,datetime=2006-01-02"`
	Periods     []int              `json:"periods" validate:"omitempty,unique"`
	Purpose     string             `json:"purpose" validate:"required,max=500"`
	Type        models.BookingType `json:"type" validate:"required"`
	SubjectID   *string            `json:"subject_id" validate:"omitempty,max=64"`
	Entries     []BatchEntry       `json:"entries" validate:"omitempty,dive"`
	BannerOptions
}

// BatchEntry is one pre-expanded (lab, date, periods) item.
type BatchEntry struct {
	LabCode   string              `json:"lab_code" validate:"required,max=32"`
	Date      string              `json:"date" validate:"required,datetime=2006-01-02"`
	Periods   []int               `json:"periods" validate:"required,min=1,unique"`
	Purpose   string              `json:"purpose" validate:"max=500"`
	Type      *models.BookingType `json:"type"`
	SubjectID *string             `json:"subject_id" validate:"omitempty,max=64"`
}

// SkippedSlot explains why one generated slot was not booked.
type SkippedSlot struct {
	LabCode string `json:"lab_code"`
	Date    string `json:"date"`
	Period  int    `json:"period"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// ScheduleBatchResult reports partial-success outcome of a batch submission.
type ScheduleBatchResult struct {
	RecurrenceID string           `json:"recurrence_id"`
	Requested    int              `json:"requested"`
	SuccessCount int              `json:"success_count"`
	Overridden   int              `json:"overridden"`
	Skipped      []SkippedSlot    `json:"skipped"`
	Bookings     []models.Booking `json:"bookings"`
}
