package dto

import "github.com/noah-isme/lab-booking-api/internal/models"

// BannerOptions carries presentation hints; they do not affect scheduling.
type BannerOptions struct {
	ShowInBanner bool    `json:"show_in_banner"`
	BannerColor  *string `json:"banner_color" validate:"omitempty,hexcolor"`
}

// ReserveSlotRequest is the payload for reserving a single slot.
type ReserveSlotRequest struct {
	LabCode   string             `json:"lab_code" validate:"required,max=32"`
	Date      string             `json:"date" validate:"required,datetime=2006-01-02"`
	Period    int                `json:"period" validate:"required"`
	Purpose   string             `json:"purpose" validate:"required,max=500"`
	Type      models.BookingType `json:"type" validate:"required"`
	SubjectID *string            `json:"subject_id" validate:"omitempty,max=64"`
	BannerOptions
}

// RejectBookingRequest records why an admin declined a booking.
type RejectBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// PromoteWaitlistRequest names the queued user who should take over the slot.
type PromoteWaitlistRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// SlotView is the state of one slot: its occupant and queue.
type SlotView struct {
	Key      models.SlotKey  `json:"key"`
	Booking  *models.Booking `json:"booking,omitempty"`
	Occupied bool            `json:"occupied"`
}

// PeriodAvailability describes one period of a lab's day.
type PeriodAvailability struct {
	models.PeriodInfo
	Available     bool                  `json:"available"`
	Maintenance   bool                  `json:"maintenance"`
	BookingID     string                `json:"booking_id,omitempty"`
	Status        *models.BookingStatus `json:"status,omitempty"`
	HolderName    string                `json:"holder_name,omitempty"`
	HolderRole    models.UserRole       `json:"holder_role,omitempty"`
	Type          models.BookingType    `json:"type,omitempty"`
	WaitlistCount int                   `json:"waitlist_count"`
}

// DayAvailability is a lab's full day grid.
type DayAvailability struct {
	LabCode string               `json:"lab_code"`
	Date    string               `json:"date"`
	Periods []PeriodAvailability `json:"periods"`
}

// AddMaintenanceWindowRequest blocks a lab for an inclusive day range.
type AddMaintenanceWindowRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"max=255"`
}
