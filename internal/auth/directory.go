package auth

import (
	"context"
	"errors"

	"github.com/nerrad567/retail-auth-core/internal/audit"
)

// Directory administers accounts, roles and permissions. It does not
// authorise callers: the transport guards each operation and passes the
// acting user's id for the audit trail.
type Directory struct {
	d        Deps
	policy   PasswordPolicy
	sessions *SessionManager
	validate *inputValidator
}

// NewDirectory returns a Directory.
func NewDirectory(d Deps, policy PasswordPolicy, sessions *SessionManager) *Directory {
	return &Directory{d: d.withDefaults(), policy: policy, sessions: sessions, validate: newInputValidator()}
}

// CreateUser creates an active account with primaryRole as its primary
// role.
func (dir *Directory) CreateUser(ctx context.Context, actorID string, profile Profile, primaryRole string) (*User, error) {
	user, err := dir.createUser(ctx, actorID, profile, primaryRole)
	ev := adminEvent(audit.EventUserCreated, err, "create user")
	ev.Username = profile.Username
	if user != nil {
		ev.UserID = user.ID
	}
	ev.Details = map[string]any{"primary_role": primaryRole}
	dir.d.Audit.Emit(ctx, ev)
	return user, err
}

func (dir *Directory) createUser(ctx context.Context, actorID string, profile Profile, primaryRole string) (*User, error) {
	if err := dir.validate.Struct(profile); err != nil {
		return nil, err
	}
	if err := dir.policy.Check(profile.Password); err != nil {
		return nil, err
	}

	var roleID string
	if primaryRole != "" {
		role, err := dir.d.Roles.GetRoleByName(ctx, primaryRole)
		if err != nil {
			return nil, err
		}
		roleID = role.ID
	}

	hash, err := dir.d.Hasher.Hash(profile.Password)
	if err != nil {
		return nil, internalError("hashing password", err)
	}

	now := dir.d.now()
	user := &User{
		Username:          profile.Username,
		Email:             profile.Email,
		FirstName:         profile.FirstName,
		LastName:          profile.LastName,
		Phone:             profile.Phone,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
		IsActive:          true,
		CreatedBy:         actorID,
		CreatedAt:         now,
	}
	if err := dir.d.Users.Create(ctx, user, roleID); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns an account.
func (dir *Directory) GetUser(ctx context.Context, userID string) (*User, error) {
	return dir.d.Users.GetByID(ctx, userID)
}

// ListUsers returns every account.
func (dir *Directory) ListUsers(ctx context.Context) ([]User, error) {
	return dir.d.Users.List(ctx)
}

// SetUserActive activates or deactivates an account. Deactivating ends
// the account's session.
func (dir *Directory) SetUserActive(ctx context.Context, actorID, userID string, active bool) error {
	evType, desc := audit.EventUserActivated, "activate user"
	if !active {
		evType, desc = audit.EventUserDeactivated, "deactivate user"
	}

	user, err := dir.d.Users.GetByID(ctx, userID)
	if err == nil {
		err = dir.d.Users.SetActive(ctx, userID, active, actorID, dir.d.now())
	}

	ev := adminEvent(evType, err, desc)
	ev.UserID = userID
	if user != nil {
		ev.Username = user.Username
		ev.SessionID = user.CurrentSessionID
	}
	dir.d.Audit.Emit(ctx, ev)
	if err != nil {
		return err
	}

	if !active && user.HasSession() {
		dir.d.Metrics.sessionEnded(EndDeactivated, 1)
		if dir.sessions != nil {
			dir.sessions.notify(ctx, userID, user.CurrentSessionID, EndDeactivated)
		}
	}
	return nil
}

// CreateRole creates a role, optionally under an existing parent.
func (dir *Directory) CreateRole(ctx context.Context, actorID string, in RoleInput) (*Role, error) {
	var role *Role
	err := dir.validate.Struct(in)
	if err == nil {
		role = &Role{
			Name:        in.Name,
			Description: in.Description,
			ParentID:    in.ParentID,
			Priority:    in.Priority,
			IsActive:    true,
			CreatedAt:   dir.d.now(),
		}
		err = dir.d.Roles.CreateRole(ctx, role)
	}

	ev := adminEvent(audit.EventRoleCreated, err, "create role")
	ev.Details = map[string]any{"role": in.Name, "parent_role_id": in.ParentID}
	dir.d.Audit.Emit(ctx, ev)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// SetRoleParent moves a role under parentID, or makes it a root when
// parentID is empty. It fails with ErrRoleCycle if the role would become
// its own ancestor.
func (dir *Directory) SetRoleParent(ctx context.Context, actorID, roleID, parentID string) error {
	err := dir.d.Roles.SetRoleParent(ctx, roleID, parentID, dir.d.now())
	ev := adminEvent(audit.EventRoleUpdated, err, "set role parent")
	ev.Details = map[string]any{"role_id": roleID, "parent_role_id": parentID}
	dir.d.Audit.Emit(ctx, ev)
	return err
}

// GetRole returns a role.
func (dir *Directory) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return dir.d.Roles.GetRole(ctx, roleID)
}

// ListRoles returns every role.
func (dir *Directory) ListRoles(ctx context.Context) ([]Role, error) {
	return dir.d.Roles.ListRoles(ctx)
}

// RolePermissions returns the permissions granted directly to a role.
func (dir *Directory) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := dir.d.Roles.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return dir.d.Roles.RolePermissions(ctx, roleID)
}

// CreatePermission creates a resource:action permission.
func (dir *Directory) CreatePermission(ctx context.Context, actorID string, in PermissionInput) (*Permission, error) {
	var perm *Permission
	err := dir.validate.Struct(in)
	if err == nil {
		perm = &Permission{
			Name:        in.Name,
			Category:    in.Category,
			Description: in.Description,
			IsActive:    true,
			CreatedAt:   dir.d.now(),
		}
		err = dir.d.Roles.CreatePermission(ctx, perm)
	}

	ev := adminEvent(audit.EventPermissionCreated, err, "create permission")
	ev.Details = map[string]any{"permission": in.Name}
	dir.d.Audit.Emit(ctx, ev)
	if err != nil {
		return nil, err
	}
	return perm, nil
}

// ListPermissions returns every permission.
func (dir *Directory) ListPermissions(ctx context.Context) ([]Permission, error) {
	return dir.d.Roles.ListPermissions(ctx)
}

// GrantPermission grants a permission to a role.
func (dir *Directory) GrantPermission(ctx context.Context, actorID, roleID, permissionID string) error {
	err := dir.d.Roles.GrantPermission(ctx, roleID, permissionID, actorID, dir.d.now())
	ev := adminEvent(audit.EventPermissionGranted, err, "grant permission")
	ev.Details = map[string]any{"role_id": roleID, "permission_id": permissionID}
	dir.d.Audit.Emit(ctx, ev)
	return err
}

// RevokePermission withdraws a permission from a role.
func (dir *Directory) RevokePermission(ctx context.Context, actorID, roleID, permissionID string) error {
	err := dir.d.Roles.RevokePermission(ctx, roleID, permissionID)
	ev := adminEvent(audit.EventPermissionRevoked, err, "revoke permission")
	ev.Details = map[string]any{"role_id": roleID, "permission_id": permissionID}
	dir.d.Audit.Emit(ctx, ev)
	return err
}

// AssignRole gives a user a role. A primary assignment fails with
// ErrPrimaryRoleExists while the user already has an active primary role.
func (dir *Directory) AssignRole(ctx context.Context, actorID, userID, roleID string, primary bool) (*UserRole, error) {
	a := &UserRole{
		UserID:     userID,
		RoleID:     roleID,
		IsPrimary:  primary,
		AssignedBy: actorID,
		AssignedAt: dir.d.now(),
	}
	err := dir.d.Roles.AssignRole(ctx, a)

	ev := adminEvent(audit.EventRoleAssigned, err, "assign role")
	ev.UserID = userID
	ev.Details = map[string]any{"role_id": roleID, "primary": primary}
	dir.d.Audit.Emit(ctx, ev)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RevokeRole removes a role from a user.
func (dir *Directory) RevokeRole(ctx context.Context, actorID, userID, roleID string) error {
	err := dir.d.Roles.RevokeRole(ctx, userID, roleID)
	ev := adminEvent(audit.EventRoleRevoked, err, "revoke role")
	ev.UserID = userID
	ev.Details = map[string]any{"role_id": roleID}
	dir.d.Audit.Emit(ctx, ev)
	return err
}

// UserRoles returns a user's active assignments.
func (dir *Directory) UserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	if _, err := dir.d.Users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return dir.d.Roles.UserRoles(ctx, userID)
}

// adminEvent builds the audit event for an administration operation.
func adminEvent(t audit.EventType, err error, op string) audit.Event {
	outcome, severity := audit.Result(err == nil)
	desc := op + " succeeded"
	if err != nil {
		desc = op + " failed"
		if !errors.Is(err, ErrInternal) {
			desc += ": " + err.Error()
		}
	}
	return audit.Event{
		Type:        t,
		Category:    audit.CategoryAuthorization,
		Severity:    severity,
		Outcome:     outcome,
		Description: desc,
	}
}
