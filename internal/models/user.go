package models

import "time"

// RoleCustomer is the shared support role bound to identities created by the
// mail pipeline.
const RoleCustomer = "ROLE_CUSTOMER"

// User is a durable account keyed by a case-insensitive email address.
type User struct {
	ID        int
	Email     string
	FirstName string
	LastName  string
	IsEnabled bool
	CreatedAt time.Time
}

// SupportRole is a role-binding row shared across identities.
type SupportRole struct {
	ID   int
	Code string
}

// UserInstance binds a user to a support channel. The (user, source) pair is
// unique; the email-channel instance is the customer identity the ticket
// pipeline operates on.
type UserInstance struct {
	ID            int
	UserID        int
	Source        string
	SupportRoleID int
	IsActive      bool
	IsVerified    bool

	// Joined from uv_user for convenience.
	Email       string
	DisplayName string
}
