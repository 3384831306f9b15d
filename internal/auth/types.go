package auth

import (
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 3-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 3-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Built-in role names. Only RoleAdmin carries behaviour of its own: it is
// exempt from the single-device session rule.
const (
	RoleAdmin              = "Admin"
	RoleManager            = "Manager"
	RoleAssistantManager   = "Assistant Manager"
	RoleInventoryAssistant = "Inventory Assistant"
	RoleSalesAssistant     = "Sales Assistant"
)

// User is a staff account together with its lockout and session state.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Phone               string     `json:"phone,omitempty"`
	PasswordHash        string     `json:"-"` // never serialised
	PasswordChangedAt   *time.Time `json:"password_changed_at,omitempty"`
	IsActive            bool       `json:"is_active"`
	IsLocked            bool       `json:"is_locked"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	CurrentSessionID    string     `json:"-"` // never serialised
	DeviceID            string     `json:"device_id,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	LastLogout          *time.Time `json:"last_logout,omitempty"`
	CreatedBy           string     `json:"created_by,omitempty"`
	UpdatedBy           string     `json:"updated_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// LockedAt reports whether the account is locked at now. A lock with no
// expiry never lapses; an expired lock no longer blocks.
func (u *User) LockedAt(now time.Time) bool {
	if !u.IsLocked {
		return false
	}
	return u.LockedUntil == nil || u.LockedUntil.After(now)
}

// HasSession reports whether a session id is currently stored.
func (u *User) HasSession() bool {
	return u.CurrentSessionID != ""
}

// Role is a named bundle of permissions. A role inherits every permission
// of its ancestors through ParentID.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parent_role_id,omitempty"`
	Priority    int       `json:"priority"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a named resource:action capability.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	IsWildcard  bool      `json:"is_wildcard"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserRole links a user to a role. At most one active assignment per user
// is primary.
type UserRole struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	RoleName   string    `json:"role_name"`
	RoleActive bool      `json:"role_active"`
	IsPrimary  bool      `json:"is_primary"`
	IsActive   bool      `json:"is_active"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Principal is the authenticated caller. It is passed explicitly to every
// operation that needs to know who is acting.
type Principal struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	SessionID string    `json:"session_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"issued_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Profile is the input for creating an account.
type Profile struct {
	Username  string `json:"username" validate:"required,username"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,max=128"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,e164"`
}

// RoleInput is the input for creating a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
	ParentID    string `json:"parent_role_id,omitempty"`
	Priority    int    `json:"priority" validate:"gte=0,lte=1000"`
}

// PermissionInput is the input for creating a permission.
type PermissionInput struct {
	Name        string `json:"name" validate:"required,max=128"`
	Category    string `json:"category" validate:"max=64"`
	Description string `json:"description" validate:"max=255"`
}
