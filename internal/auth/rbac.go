package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
)

// RoleGraph is an id-indexed snapshot of the role hierarchy and each role's
// direct grants. Walks over it are bounded by a visited set, so a loop
// written behind the repository's back cannot hang a permission check.
type RoleGraph struct {
	roles  map[string]Role
	byName map[string]string
	grants map[string][]string
}

// NewRoleGraph indexes roles and their direct grants, keyed by role id.
func NewRoleGraph(roles []Role, grants map[string][]string) *RoleGraph {
	g := &RoleGraph{
		roles:  make(map[string]Role, len(roles)),
		byName: make(map[string]string, len(roles)),
		grants: grants,
	}
	for _, role := range roles {
		g.roles[role.ID] = role
		g.byName[role.Name] = role.ID
	}
	if g.grants == nil {
		g.grants = map[string][]string{}
	}
	return g
}

// Role returns the role with id.
func (g *RoleGraph) Role(id string) (Role, bool) {
	role, ok := g.roles[id]
	return role, ok
}

// RoleByName returns the role called name.
func (g *RoleGraph) RoleByName(name string) (Role, bool) {
	id, ok := g.byName[name]
	if !ok {
		return Role{}, false
	}
	return g.Role(id)
}

// Ancestry returns the role followed by its ancestors, nearest first. If
// the walk revisits a role it stops and returns the chain so far together
// with ErrRoleCycle.
func (g *RoleGraph) Ancestry(roleID string) ([]Role, error) {
	var chain []Role
	seen := make(map[string]bool)
	for id := roleID; id != ""; {
		if seen[id] {
			return chain, ErrRoleCycle
		}
		seen[id] = true
		role, ok := g.roles[id]
		if !ok {
			break
		}
		chain = append(chain, role)
		id = role.ParentID
	}
	return chain, nil
}

// collect adds the grants of roleID and its ancestors to set. Inactive roles
// contribute nothing but do not cut the chain.
func (g *RoleGraph) collect(roleID string, set *permissionSet) error {
	chain, err := g.Ancestry(roleID)
	for _, role := range chain {
		if !role.IsActive {
			continue
		}
		for _, name := range g.grants[role.ID] {
			set.add(name)
		}
	}
	return err
}

// createsCycle reports whether making parentID the parent of roleID would
// close a loop, given the current child-to-parent links.
func createsCycle(parents map[string]string, roleID, parentID string) bool {
	seen := make(map[string]bool)
	for id := parentID; id != ""; id = parents[id] {
		if id == roleID || seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

// UserContext summarises what a user may do, for clients deciding which
// screens to show.
type UserContext struct {
	UserID                  string   `json:"user_id"`
	Username                string   `json:"username"`
	Roles                   []string `json:"roles"`
	PrimaryRole             string   `json:"primary_role,omitempty"`
	Permissions             []string `json:"permissions"`
	CanManageUsers          bool     `json:"can_manage_users"`
	CanManageRoles          bool     `json:"can_manage_roles"`
	CanAccessSystemSettings bool     `json:"can_access_system_settings"`
	CanOverrideSingleDevice bool     `json:"can_override_single_device"`
}

// Resolver answers permission and role questions about users.
type Resolver struct {
	users   UserRepository
	roles   RoleRepository
	logger  *slog.Logger
	metrics *Metrics
}

// NewResolver returns a Resolver reading from the given repositories.
func NewResolver(users UserRepository, roles RoleRepository, logger *slog.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{users: users, roles: roles, logger: logger, metrics: metrics}
}

// access is a user's resolved roles and permissions.
type access struct {
	user    *User
	roles   []string
	primary string
	perms   *permissionSet
}

func (a *access) hasRole(name string) bool {
	return slices.Contains(a.roles, name)
}

// load resolves userID. Only active assignments to active roles count, and
// an inactive user holds no permissions.
func (r *Resolver) load(ctx context.Context, userID string) (*access, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.loadFor(ctx, user)
}

func (r *Resolver) loadFor(ctx context.Context, user *User) (*access, error) {
	assignments, err := r.roles.UserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	a := &access{user: user, roles: []string{}, perms: newPermissionSet()}
	var active []UserRole
	for _, ur := range assignments {
		if !ur.IsActive || !ur.RoleActive {
			continue
		}
		active = append(active, ur)
		a.roles = append(a.roles, ur.RoleName)
		if ur.IsPrimary && a.primary == "" {
			a.primary = ur.RoleName
		}
	}
	if a.primary == "" && len(active) > 0 {
		a.primary = active[0].RoleName
	}
	if !user.IsActive || len(active) == 0 {
		return a, nil
	}

	graph, err := r.roles.Graph(ctx)
	if err != nil {
		return nil, err
	}
	for _, ur := range active {
		if err := graph.collect(ur.RoleID, a.perms); errors.Is(err, ErrRoleCycle) {
			r.logger.Error("role hierarchy contains a cycle", "role_id", ur.RoleID)
		}
	}
	return a, nil
}

// HasPermission reports whether the user holds perm through any active
// role or its ancestors. Unknown and inactive users hold nothing.
func (r *Resolver) HasPermission(ctx context.Context, userID, perm string) (bool, error) {
	a, err := r.load(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		r.metrics.permissionCheck(false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok := a.perms.has(perm)
	r.metrics.permissionCheck(ok)
	return ok, nil
}

// ValidateResourceAccess reports whether the user may perform action on
// resource.
func (r *Resolver) ValidateResourceAccess(ctx context.Context, userID, resource, action string) (bool, error) {
	return r.HasPermission(ctx, userID, resource+":"+action)
}

// GetPermissions returns the user's effective permission names, sorted.
func (r *Resolver) GetPermissions(ctx context.Context, userID string) ([]string, error) {
	a, err := r.load(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return a.perms.sorted(), nil
}

// HasRole reports whether the user holds an active assignment to roleName.
// Inherited roles do not count.
func (r *Resolver) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	roles, err := r.GetRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(roles, roleName), nil
}

// GetRoles returns the names of the user's active roles, primary first.
func (r *Resolver) GetRoles(ctx context.Context, userID string) ([]string, error) {
	assignments, err := r.roles.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := []string{}
	for _, ur := range assignments {
		if ur.IsActive && ur.RoleActive {
			roles = append(roles, ur.RoleName)
		}
	}
	return roles, nil
}

// IsAdmin reports whether the user holds the Admin role.
func (r *Resolver) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return r.HasRole(ctx, userID, RoleAdmin)
}

// PrimaryRole returns the user's primary role name, falling back to their
// highest-priority role. It is empty for a user with no roles.
func (r *Resolver) PrimaryRole(ctx context.Context, userID string) (string, error) {
	a, err := r.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.primary, nil
}

// GetUserContext resolves the user's roles, permissions and capability
// flags in one pass.
func (r *Resolver) GetUserContext(ctx context.Context, userID string) (*UserContext, error) {
	a, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.context(), nil
}

func (a *access) context() *UserContext {
	has := a.perms.has
	return &UserContext{
		UserID:                  a.user.ID,
		Username:                a.user.Username,
		Roles:                   a.roles,
		PrimaryRole:             a.primary,
		Permissions:             a.perms.sorted(),
		CanManageUsers:          has(PermUsersCreate) || has(PermUsersUpdate) || has(PermUsersDelete),
		CanManageRoles:          has(PermRolesCreate) || has(PermRolesUpdate) || has(PermRolesDelete),
		CanAccessSystemSettings: has(PermSystemSettings),
		CanOverrideSingleDevice: a.hasRole(RoleAdmin),
	}
}

// RoleHierarchy returns a role followed by its ancestors, nearest first.
func (r *Resolver) RoleHierarchy(ctx context.Context, roleID string) ([]Role, error) {
	graph, err := r.roles.Graph(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := graph.Role(roleID); !ok {
		return nil, ErrRoleNotFound
	}
	chain, err := graph.Ancestry(roleID)
	if err != nil {
		r.logger.Error("role hierarchy contains a cycle", "role_id", roleID)
	}
	return chain, nil
}

// Guard decides whether a principal may proceed.
type Guard func(ctx context.Context, p Principal) error

// Chain runs guards in order and stops at the first refusal.
func Chain(guards ...Guard) Guard {
	return func(ctx context.Context, p Principal) error {
		for _, g := range guards {
			if err := g(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}
}

// Require returns ErrForbidden unless p holds perm.
func (r *Resolver) Require(ctx context.Context, p Principal, perm string) error {
	ok, err := r.HasPermission(ctx, p.UserID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// RequirePermission is a Guard form of Require.
func (r *Resolver) RequirePermission(perm string) Guard {
	return func(ctx context.Context, p Principal) error {
		return r.Require(ctx, p, perm)
	}
}

// RequireAny passes when p holds at least one of perms.
func (r *Resolver) RequireAny(perms ...string) Guard {
	return func(ctx context.Context, p Principal) error {
		a, err := r.load(ctx, p.UserID)
		if errors.Is(err, ErrUserNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return err
		}
		if slices.ContainsFunc(perms, a.perms.has) {
			return nil
		}
		return ErrForbidden
	}
}

// RequireSelfOr passes when p is acting on its own account or holds perm.
func (r *Resolver) RequireSelfOr(userID func(ctx context.Context) string, perm string) Guard {
	return func(ctx context.Context, p Principal) error {
		if userID(ctx) == p.UserID {
			return nil
		}
		return r.Require(ctx, p, perm)
	}
}

func (s *permissionSet) sorted() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
