package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/ids"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/database"
)

// RoleRepository persists roles, permissions, grants and assignments.
type RoleRepository interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	SetRoleParent(ctx context.Context, roleID, parentID string, now time.Time) error

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID, grantedBy string, now time.Time) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error

	AssignRole(ctx context.Context, a *UserRole) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	UserRoles(ctx context.Context, userID string) ([]UserRole, error)

	Graph(ctx context.Context) (*RoleGraph, error)
}

const roleColumns = `id, name, description, parent_role_id, priority, is_active, is_system, created_at, updated_at`

const permissionColumns = `id, name, resource, action, category, description, is_wildcard, is_active, created_at`

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

// CreateRole inserts a role. A parent must already exist.
func (r *SQLiteRoleRepository) CreateRole(ctx context.Context, role *Role) error {
	return wrapStoreError("creating role", insertRole(ctx, r.db, role))
}

// GetRole retrieves a role by ID.
func (r *SQLiteRoleRepository) GetRole(ctx context.Context, id string) (*Role, error) {
	role, err := getRole(ctx, r.db, "SELECT "+roleColumns+" FROM roles WHERE id = ?", id)
	return role, wrapStoreError("loading role", err)
}

// GetRoleByName retrieves a role by its unique name.
func (r *SQLiteRoleRepository) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := getRole(ctx, r.db, "SELECT "+roleColumns+" FROM roles WHERE name = ?", name)
	return role, wrapStoreError("loading role", err)
}

// ListRoles returns all roles, highest priority first.
func (r *SQLiteRoleRepository) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := listRoles(ctx, r.db)
	if err != nil {
		return nil, internalError("listing roles", err)
	}
	return roles, nil
}

// SetRoleParent sets or, with an empty parentID, clears a role's parent.
// It refuses any change that would close a loop in the hierarchy.
func (r *SQLiteRoleRepository) SetRoleParent(ctx context.Context, roleID, parentID string, now time.Time) error {
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		parents, err := loadParentLinks(ctx, tx)
		if err != nil {
			return err
		}
		if _, ok := parents[roleID]; !ok {
			return ErrRoleNotFound
		}
		if parentID != "" {
			if _, ok := parents[parentID]; !ok {
				return ErrRoleNotFound
			}
			if createsCycle(parents, roleID, parentID) {
				return ErrRoleCycle
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE roles SET parent_role_id = ?, updated_at = ? WHERE id = ?`,
			nullString(parentID), database.FormatTime(now), roleID)
		return err
	})
	return wrapStoreError("setting role parent", err)
}

// CreatePermission inserts a permission. Resource, action and the wildcard
// flag are derived from the name.
func (r *SQLiteRoleRepository) CreatePermission(ctx context.Context, perm *Permission) error {
	return wrapStoreError("creating permission", insertPermission(ctx, r.db, perm))
}

// GetPermission retrieves a permission by ID.
func (r *SQLiteRoleRepository) GetPermission(ctx context.Context, id string) (*Permission, error) {
	p, err := getPermission(ctx, r.db, "SELECT "+permissionColumns+" FROM permissions WHERE id = ?", id)
	return p, wrapStoreError("loading permission", err)
}

// GetPermissionByName retrieves a permission by its unique name.
func (r *SQLiteRoleRepository) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	p, err := getPermission(ctx, r.db, "SELECT "+permissionColumns+" FROM permissions WHERE name = ?", name)
	return p, wrapStoreError("loading permission", err)
}

// ListPermissions returns every permission ordered by name.
func (r *SQLiteRoleRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := listPermissions(ctx, r.db, "SELECT "+permissionColumns+" FROM permissions ORDER BY name")
	if err != nil {
		return nil, internalError("listing permissions", err)
	}
	return perms, nil
}

// RolePermissions returns the active permissions granted directly to a role.
func (r *SQLiteRoleRepository) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	perms, err := listPermissions(ctx, r.db,
		`SELECT p.id, p.name, p.resource, p.action, p.category, p.description, p.is_wildcard, p.is_active, p.created_at
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ? AND rp.is_active = 1 AND p.is_active = 1
		 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, internalError("listing role permissions", err)
	}
	return perms, nil
}

// GrantPermission grants a permission to a role, reactivating a revoked grant.
func (r *SQLiteRoleRepository) GrantPermission(ctx context.Context, roleID, permissionID, grantedBy string, now time.Time) error {
	err := upsertGrant(ctx, r.db, roleID, permissionID, grantedBy, now)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: role or permission", ErrNotFound)
	}
	return wrapStoreError("granting permission", err)
}

// RevokePermission deactivates a grant.
func (r *SQLiteRoleRepository) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE role_permissions SET is_active = 0 WHERE role_id = ? AND permission_id = ? AND is_active = 1`,
		roleID, permissionID)
	if err != nil {
		return internalError("revoking permission", err)
	}
	if !rowsAffected(res) {
		return ErrGrantNotFound
	}
	return nil
}

// AssignRole assigns a role to a user, reactivating an earlier assignment.
// It returns ErrPrimaryRoleExists when a.IsPrimary and the user already has
// an active primary role.
func (r *SQLiteRoleRepository) AssignRole(ctx context.Context, a *UserRole) error {
	err := insertAssignment(ctx, r.db, a)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: user or role", ErrNotFound)
	}
	return wrapStoreError("assigning role", err)
}

// RevokeRole deactivates an assignment. A revoked primary role frees the
// primary slot.
func (r *SQLiteRoleRepository) RevokeRole(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_roles SET is_active = 0, is_primary = 0 WHERE user_id = ? AND role_id = ? AND is_active = 1`,
		userID, roleID)
	if err != nil {
		return internalError("revoking role", err)
	}
	if !rowsAffected(res) {
		return ErrAssignmentNotFound
	}
	return nil
}

// UserRoles returns a user's active assignments, primary first.
func (r *SQLiteRoleRepository) UserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ur.id, ur.user_id, ur.role_id, r.name, r.is_active, ur.is_primary, ur.is_active,
		        ur.assigned_by, ur.assigned_at
		 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = ? AND ur.is_active = 1
		 ORDER BY ur.is_primary DESC, r.priority DESC, r.name`, userID)
	if err != nil {
		return nil, internalError("listing user roles", err)
	}
	defer rows.Close()

	out := []UserRole{}
	for rows.Next() {
		var (
			a                               UserRole
			roleActive, isPrimary, isActive int
			assignedBy                      sql.NullString
			assignedAt                      string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleName, &roleActive, &isPrimary, &isActive,
			&assignedBy, &assignedAt); err != nil {
			return nil, internalError("scanning user role", err)
		}
		a.RoleActive = roleActive != 0
		a.IsPrimary = isPrimary != 0
		a.IsActive = isActive != 0
		a.AssignedBy = assignedBy.String
		if a.AssignedAt, err = database.ParseTime(assignedAt); err != nil {
			return nil, internalError("scanning user role", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, internalError("iterating user roles", err)
	}
	return out, nil
}

// Graph loads every role with its active grants.
func (r *SQLiteRoleRepository) Graph(ctx context.Context) (*RoleGraph, error) {
	roles, err := listRoles(ctx, r.db)
	if err != nil {
		return nil, internalError("loading role graph", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT rp.role_id, p.name
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.is_active = 1 AND p.is_active = 1`)
	if err != nil {
		return nil, internalError("loading role graph", err)
	}
	defer rows.Close()

	grants := make(map[string][]string)
	for rows.Next() {
		var roleID, name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return nil, internalError("loading role graph", err)
		}
		grants[roleID] = append(grants[roleID], name)
	}
	if err := rows.Err(); err != nil {
		return nil, internalError("loading role graph", err)
	}

	return NewRoleGraph(roles, grants), nil
}

func insertRole(ctx context.Context, q dbtx, role *Role) error {
	if role.ID == "" {
		role.ID = ids.NewEntity(ids.PrefixRole)
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	role.CreatedAt = role.CreatedAt.UTC()
	role.UpdatedAt = role.CreatedAt
	ts := database.FormatTime(role.CreatedAt)

	_, err := q.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, parent_role_id, priority, is_active, is_system, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.Description, nullString(role.ParentID), role.Priority,
		boolToInt(role.IsActive), boolToInt(role.IsSystem), ts, ts)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, "roles.name"):
		return ErrRoleExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: parent", ErrRoleNotFound)
	default:
		return err
	}
}

func getRole(ctx context.Context, q dbtx, query string, args ...any) (*Role, error) {
	role, err := scanRoleFrom(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	return role, err
}

func listRoles(ctx context.Context, q dbtx) ([]Role, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY priority DESC, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRoleFrom(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

func scanRoleFrom(s scanner) (*Role, error) {
	var (
		role                 Role
		parentID             sql.NullString
		isActive, isSystem   int
		createdAt, updatedAt string
	)
	if err := s.Scan(&role.ID, &role.Name, &role.Description, &parentID, &role.Priority,
		&isActive, &isSystem, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	role.ParentID = parentID.String
	role.IsActive = isActive != 0
	role.IsSystem = isSystem != 0

	var err error
	if role.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	if role.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	return &role, nil
}

// loadParentLinks maps every role id to its parent id ("" for roots).
func loadParentLinks(ctx context.Context, q dbtx) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, parent_role_id FROM roles")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parents := make(map[string]string)
	for rows.Next() {
		var (
			id     string
			parent sql.NullString
		)
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		parents[id] = parent.String
	}
	return parents, rows.Err()
}

func insertPermission(ctx context.Context, q dbtx, perm *Permission) error {
	name, err := ParsePermission(perm.Name)
	if err != nil {
		return err
	}
	perm.Resource = name.Resource
	perm.Action = name.Action
	perm.IsWildcard = name.IsWildcard()
	if perm.ID == "" {
		perm.ID = ids.NewEntity(ids.PrefixPermission)
	}
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = time.Now()
	}
	perm.CreatedAt = perm.CreatedAt.UTC()

	_, err = q.ExecContext(ctx,
		`INSERT INTO permissions (id, name, resource, action, category, description, is_wildcard, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		perm.ID, perm.Name, perm.Resource, perm.Action, perm.Category, perm.Description,
		boolToInt(perm.IsWildcard), boolToInt(perm.IsActive), database.FormatTime(perm.CreatedAt))
	if isUniqueViolation(err, "permissions.name") {
		return ErrPermissionExists
	}
	return err
}

func getPermission(ctx context.Context, q dbtx, query string, args ...any) (*Permission, error) {
	p, err := scanPermissionFrom(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	return p, err
}

func listPermissions(ctx context.Context, q dbtx, query string, args ...any) ([]Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermissionFrom(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

func scanPermissionFrom(s scanner) (*Permission, error) {
	var (
		p                    Permission
		isWildcard, isActive int
		createdAt            string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Category, &p.Description,
		&isWildcard, &isActive, &createdAt); err != nil {
		return nil, err
	}
	p.IsWildcard = isWildcard != 0
	p.IsActive = isActive != 0

	var err error
	if p.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scanning permission: %w", err)
	}
	return &p, nil
}

func upsertGrant(ctx context.Context, q dbtx, roleID, permissionID, grantedBy string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, is_active, granted_by, granted_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (role_id, permission_id) DO UPDATE SET
		     is_active = 1, granted_by = excluded.granted_by, granted_at = excluded.granted_at`,
		roleID, permissionID, nullString(grantedBy), database.FormatTime(now))
	return err
}

func insertAssignment(ctx context.Context, q dbtx, a *UserRole) error {
	if a.ID == "" {
		a.ID = ids.NewEntity(ids.PrefixAssignment)
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	a.AssignedAt = a.AssignedAt.UTC()
	a.IsActive = true

	err := q.QueryRowContext(ctx,
		`INSERT INTO user_roles (id, user_id, role_id, is_primary, is_active, assigned_by, assigned_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (user_id, role_id) DO UPDATE SET
		     is_primary = excluded.is_primary, is_active = 1,
		     assigned_by = excluded.assigned_by, assigned_at = excluded.assigned_at
		 RETURNING id`,
		a.ID, a.UserID, a.RoleID, boolToInt(a.IsPrimary), nullString(a.AssignedBy),
		database.FormatTime(a.AssignedAt)).Scan(&a.ID)
	if isUniqueViolation(err, "") {
		return ErrPrimaryRoleExists
	}
	return err
}
