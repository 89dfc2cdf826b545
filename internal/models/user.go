package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStaff   UserRole = "STAFF"
	RoleStudent UserRole = "STUDENT"
)

// Valid reports whether the role is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleStudent:
		return true
	}
	return false
}

// Weight is the informational priority of a role.
func (r UserRole) Weight() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleStaff:
		return 2
	case RoleStudent:
		return 1
	}
	return 0
}

// AccountStatus is the moderation state of a user account.
type AccountStatus string

const (
	AccountPending  AccountStatus = "PENDING"
	AccountApproved AccountStatus = "APPROVED"
	AccountRejected AccountStatus = "REJECTED"
)

// User mirrors the identity provider's user record.
type User struct {
	ID            string        `db:"id" json:"id"`
	Email         string        `db:"email" json:"email"`
	FullName      string        `db:"full_name" json:"full_name"`
	Role          UserRole      `db:"role" json:"role"`
	AccountStatus AccountStatus `db:"account_status" json:"account_status"`
}

// Identity is the verified caller of a core operation.
type Identity struct {
	UserID        string        `json:"user_id"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Role          UserRole      `json:"role"`
	AccountStatus AccountStatus `json:"account_status"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Approved reports whether the account may act on bookings.
func (i Identity) Approved() bool { return i.AccountStatus == AccountApproved }

// IdentityClaims represents the access token payload issued by the auth service.
type IdentityClaims struct {
	UserID        string        `json:"user_id"`
	Role          UserRole      `json:"role"`
	Email         string        `json:"email"`
	FullName      string        `json:"full_name"`
	AccountStatus AccountStatus `json:"account_status"`
	jwt.RegisteredClaims
}

// Identity converts claims into the value passed across the core.
func (c *IdentityClaims) Identity() Identity {
	return Identity{
		UserID:        c.UserID,
		Name:          c.FullName,
		Email:         c.Email,
		Role:          c.Role,
		AccountStatus: c.AccountStatus,
	}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
