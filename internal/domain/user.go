package domain

// Role is the access level carried in a bearer token.
type Role string

// Roles in ascending order of privilege.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// UserStatus is the account status of a user.
type UserStatus string

// User statuses.
const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

var roleLevels = map[Role]int{
	RoleUser:  1,
	RoleAgent: 2,
	RoleAdmin: 3,
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// HasPermission reports whether r is at least min.
func (r Role) HasPermission(min Role) bool {
	return roleLevels[r] >= roleLevels[min] && roleLevels[r] > 0
}
