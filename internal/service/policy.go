package service

import "github.com/noah-isme/lab-booking-api/internal/models"

// Decision is the outcome of evaluating a request against a slot's occupant.
type Decision int

const (
	// DecisionDeny rejects the request outright.
	DecisionDeny Decision = iota
	// DecisionAllow creates the booking on a free slot.
	DecisionAllow
	// DecisionOverride replaces the current occupant.
	DecisionOverride
	// DecisionWaitlistOnly reports the slot as taken; the caller may queue instead.
	DecisionWaitlistOnly
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionOverride:
		return "override"
	case DecisionWaitlistOnly:
		return "waitlist-only"
	}
	return "deny"
}

// PolicyInput is the tuple the slot policy is keyed on. OccupantRole is empty
// when the slot is free.
type PolicyInput struct {
	RequesterRole models.UserRole
	OccupantRole  models.UserRole
	RequestedType models.BookingType
	// Batch selects the recurring path, where only admins replace occupants.
	Batch bool
}

// Decide evaluates the slot policy once per reservation attempt.
//
//	requester  occupant  type   path    decision
//	unknown    *         *      *       deny
//	*          none      *      *       allow
//	ADMIN      any       *      *       override
//	STAFF      STUDENT   TEST   single  override
//	other      any       *      *       waitlist-only
func Decide(in PolicyInput) Decision {
	if !in.RequesterRole.Valid() {
		return DecisionDeny
	}
	if in.OccupantRole == "" {
		return DecisionAllow
	}
	if in.RequesterRole == models.RoleAdmin {
		return DecisionOverride
	}
	if !in.Batch &&
		in.RequesterRole == models.RoleStaff &&
		in.OccupantRole == models.RoleStudent &&
		in.RequestedType == models.TypeTest {
		return DecisionOverride
	}
	return DecisionWaitlistOnly
}
