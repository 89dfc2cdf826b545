package models

import "time"

// AuditAction constants represent booking mutations recorded in the activity log.
const (
	AuditActionBookingCreate   = "BOOKING_CREATE"
	AuditActionBookingOverride = "BOOKING_OVERRIDE"
	AuditActionBookingCancel   = "BOOKING_CANCEL"
	AuditActionBookingApprove  = "BOOKING_APPROVE"
	AuditActionBookingReject   = "BOOKING_REJECT"
	AuditActionWaitlistJoin    = "WAITLIST_JOIN"
	AuditActionWaitlistLeave   = "WAITLIST_LEAVE"
	AuditActionWaitlistPromote = "WAITLIST_PROMOTE"
	AuditActionBatchSchedule   = "BATCH_SCHEDULE"
	AuditActionMaintenanceAdd  = "MAINTENANCE_ADD"
	AuditActionMaintenanceDrop = "MAINTENANCE_REMOVE"
)

// AuditLog represents an activity log record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	RequestID  string    `db:"request_id" json:"request_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
