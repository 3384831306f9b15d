package auth

import (
	"fmt"
	"strings"
)

// Wildcard matches any resource or any action.
const Wildcard = "*"

// Permission constants used by the core itself and by the HTTP guards.
const (
	PermAll             = "*:*"
	PermAdminFullAccess = "admin:full_access"

	PermUsersRead   = "users:read"
	PermUsersCreate = "users:create"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"

	PermRolesRead   = "roles:read"
	PermRolesCreate = "roles:create"
	PermRolesUpdate = "roles:update"
	PermRolesDelete = "roles:delete"

	PermPermissionsRead   = "permissions:read"
	PermPermissionsCreate = "permissions:create"

	PermSessionsRead   = "sessions:read"
	PermSessionsManage = "sessions:manage"

	PermAuditRead = "audit:read"

	PermSystemSettings = "system:settings"
	PermSystemReports  = "system:reports"

	PermInventoryRead   = "inventory:read"
	PermInventoryCreate = "inventory:create"
	PermInventoryUpdate = "inventory:update"
	PermInventoryDelete = "inventory:delete"

	PermPOSRead   = "pos:read"
	PermPOSCreate = "pos:create"
	PermPOSUpdate = "pos:update"
	PermPOSDelete = "pos:delete"
)

// Permission categories.
const (
	CategorySystem     = "system"
	CategoryUsers      = "users"
	CategorySessions   = "sessions"
	CategoryInventory  = "inventory"
	CategorySales      = "sales"
	CategoryReporting  = "reporting"
	CategoryAuditTrail = "audit"
)

// PermissionName is a parsed resource:action pair.
type PermissionName struct {
	Resource string
	Action   string
}

// ParsePermission splits name at its first colon. Both halves must be
// non-empty and contain no whitespace.
func ParsePermission(name string) (PermissionName, error) {
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" ||
		strings.ContainsAny(name, " \t\r\n") {
		return PermissionName{}, fmt.Errorf("%w: %q", ErrInvalidPermissionName, name)
	}
	return PermissionName{Resource: resource, Action: action}, nil
}

func (p PermissionName) String() string {
	return p.Resource + ":" + p.Action
}

// IsWildcard reports whether either half is the wildcard.
func (p PermissionName) IsWildcard() bool {
	return p.Resource == Wildcard || p.Action == Wildcard
}

// Covers reports whether holding p grants want. A wildcard half in p
// matches anything; a wildcard in want only matches a wildcard in p.
func (p PermissionName) Covers(want PermissionName) bool {
	return (p.Resource == Wildcard || p.Resource == want.Resource) &&
		(p.Action == Wildcard || p.Action == want.Action)
}

// permissionSet is a user's effective grants.
type permissionSet struct {
	names map[string]struct{}
	wild  []PermissionName
}

func newPermissionSet() *permissionSet {
	return &permissionSet{names: make(map[string]struct{})}
}

func (s *permissionSet) add(name string) {
	if _, ok := s.names[name]; ok {
		return
	}
	s.names[name] = struct{}{}
	if p, err := ParsePermission(name); err == nil && p.IsWildcard() {
		s.wild = append(s.wild, p)
	}
}

// has reports whether the set grants name, exactly or through a wildcard.
func (s *permissionSet) has(name string) bool {
	if _, ok := s.names[name]; ok {
		return true
	}
	if len(s.wild) == 0 {
		return false
	}
	want, err := ParsePermission(name)
	if err != nil {
		return false
	}
	for _, w := range s.wild {
		if w.Covers(want) {
			return true
		}
	}
	return false
}

// defaultPermission is one entry of the seeded catalogue.
type defaultPermission struct {
	name        string
	category    string
	description string
}

// defaultPermissions is the permission catalogue seeded on first start.
var defaultPermissions = []defaultPermission{
	{PermAll, CategorySystem, "All permissions"},
	{PermAdminFullAccess, CategorySystem, "Full administrative access"},
	{PermUsersRead, CategoryUsers, "View staff accounts"},
	{PermUsersCreate, CategoryUsers, "Create staff accounts"},
	{PermUsersUpdate, CategoryUsers, "Edit staff accounts"},
	{PermUsersDelete, CategoryUsers, "Deactivate staff accounts"},
	{PermRolesRead, CategoryUsers, "View roles"},
	{PermRolesCreate, CategoryUsers, "Create roles"},
	{PermRolesUpdate, CategoryUsers, "Edit roles and grants"},
	{PermRolesDelete, CategoryUsers, "Retire roles"},
	{PermPermissionsRead, CategoryUsers, "View permissions"},
	{PermPermissionsCreate, CategoryUsers, "Create permissions"},
	{PermSessionsRead, CategorySessions, "View active sessions"},
	{PermSessionsManage, CategorySessions, "Force logout and clean up sessions"},
	{PermAuditRead, CategoryAuditTrail, "Read the audit log"},
	{PermSystemSettings, CategorySystem, "Change system settings"},
	{PermSystemReports, CategoryReporting, "Run reports"},
	{PermInventoryRead, CategoryInventory, "View stock"},
	{PermInventoryCreate, CategoryInventory, "Add stock items"},
	{PermInventoryUpdate, CategoryInventory, "Adjust stock"},
	{PermInventoryDelete, CategoryInventory, "Remove stock items"},
	{PermPOSRead, CategorySales, "View sales"},
	{PermPOSCreate, CategorySales, "Ring up sales"},
	{PermPOSUpdate, CategorySales, "Amend sales"},
	{PermPOSDelete, CategorySales, "Void sales"},
}

// defaultRole is one entry of the seeded role hierarchy. Roles are listed
// parents first.
type defaultRole struct {
	name        string
	description string
	parent      string
	priority    int
	permissions []string
}

var defaultRoles = []defaultRole{
	{
		name:        RoleSalesAssistant,
		description: "Shop floor sales",
		priority:    20,
		permissions: []string{PermPOSRead, PermPOSCreate, PermInventoryRead},
	},
	{
		name:        RoleInventoryAssistant,
		description: "Stock room",
		priority:    40,
		permissions: []string{PermInventoryRead, PermInventoryCreate, PermInventoryUpdate},
	},
	{
		name:        RoleAssistantManager,
		description: "Shift supervision",
		parent:      RoleSalesAssistant,
		priority:    60,
		permissions: []string{PermPOSUpdate, PermInventoryUpdate, PermUsersRead, PermSystemReports, PermSessionsRead},
	},
	{
		name:        RoleManager,
		description: "Store management",
		parent:      RoleAssistantManager,
		priority:    80,
		permissions: []string{
			PermPOSDelete, PermInventoryCreate, PermInventoryDelete,
			PermUsersCreate, PermUsersUpdate, PermRolesRead, PermAuditRead, PermSessionsManage,
		},
	},
	{
		name:        RoleAdmin,
		description: "Full system access",
		priority:    100,
		permissions: []string{PermAll, PermAdminFullAccess},
	},
}
