package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every error returned by this package wraps exactly one
// of these, so callers can branch on the category with errors.Is or KindOf.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("insufficient permissions")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrInternal       = errors.New("internal error")
)

// Authentication failures.
var (
	ErrInvalidCredentials   = fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	ErrAccountLocked        = fmt.Errorf("%w: account locked", ErrAuthentication)
	ErrAccountInactive      = fmt.Errorf("%w: account inactive", ErrAuthentication)
	ErrWrongCurrentPassword = fmt.Errorf("%w: current password is incorrect", ErrAuthentication)
	ErrTokenInvalid         = fmt.Errorf("%w: invalid token", ErrAuthentication)
	ErrTokenExpired         = fmt.Errorf("%w: token has expired", ErrAuthentication)
	ErrSessionInvalidated   = fmt.Errorf("%w: session is no longer valid", ErrAuthentication)
	ErrSessionExpired       = fmt.Errorf("%w: session has expired", ErrAuthentication)
)

// ErrForbidden is returned by permission guards. It never names the
// permission that was missing.
var ErrForbidden = fmt.Errorf("%w", ErrAuthorization)

// Lookup failures.
var (
	ErrUserNotFound       = fmt.Errorf("%w: user", ErrNotFound)
	ErrRoleNotFound       = fmt.Errorf("%w: role", ErrNotFound)
	ErrPermissionNotFound = fmt.Errorf("%w: permission", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment", ErrNotFound)
	ErrGrantNotFound      = fmt.Errorf("%w: grant", ErrNotFound)
)

// Conflicts with existing state.
var (
	ErrUsernameExists       = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrEmailExists          = fmt.Errorf("%w: email already exists", ErrConflict)
	ErrRoleExists           = fmt.Errorf("%w: role already exists", ErrConflict)
	ErrPermissionExists     = fmt.Errorf("%w: permission already exists", ErrConflict)
	ErrAdminAlreadyExists   = fmt.Errorf("%w: an administrator already exists", ErrConflict)
	ErrSessionAlreadyActive = fmt.Errorf("%w: a session is already active for this user", ErrConflict)
	ErrPrimaryRoleExists    = fmt.Errorf("%w: user already has an active primary role", ErrConflict)
)

// Input rejected before reaching the store.
var (
	ErrPolicyViolation       = fmt.Errorf("%w: password policy violation", ErrValidation)
	ErrRoleCycle             = fmt.Errorf("%w: role hierarchy would contain a cycle", ErrValidation)
	ErrInvalidPermissionName = fmt.Errorf("%w: permission name must be resource:action", ErrValidation)
	ErrInvalidUsername       = fmt.Errorf("%w: invalid username", ErrValidation)
)

// PolicyError reports the first password rule a candidate failed.
type PolicyError struct {
	Rule    PolicyRule
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrPolicyViolation and ErrValidation.
func (e *PolicyError) Unwrap() error {
	return ErrPolicyViolation
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Kind is the error category used by transports to pick a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// internalError marks an infrastructure failure (store, signer, hasher).
func internalError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
