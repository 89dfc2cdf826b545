package models

import "time"

// BookingEventAction names the kind of change broadcast to realtime clients.
type BookingEventAction string

const (
	EventCreate    BookingEventAction = "create"
	EventDelete    BookingEventAction = "delete"
	EventUpdate    BookingEventAction = "update"
	EventRecurring BookingEventAction = "recurring"
)

// BookingEvent is emitted after a committed mutation. Batch submissions emit a
// single summary event carrying the recurrence id and count instead of a slot.
type BookingEvent struct {
	Action       BookingEventAction `json:"action"`
	LabCode      string             `json:"lab_code,omitempty"`
	Date         string             `json:"date,omitempty"`
	Period       int                `json:"period,omitempty"`
	BookingID    string             `json:"booking_id,omitempty"`
	RecurrenceID string             `json:"recurrence_id,omitempty"`
	LabCodes     []string           `json:"lab_codes,omitempty"`
	Count        int                `json:"count,omitempty"`
	OccurredAt   time.Time          `json:"occurred_at"`
}

// SlotEvent builds an event scoped to a single slot.
func SlotEvent(action BookingEventAction, b *Booking) BookingEvent {
	return BookingEvent{
		Action:     action,
		LabCode:    b.LabCode,
		Date:       FormatDate(b.Date),
		Period:     b.Period,
		BookingID:  b.ID,
		OccurredAt: time.Now().UTC(),
	}
}
