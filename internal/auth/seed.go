package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SeedResult counts what SeedDefaults created.
type SeedResult struct {
	Permissions int
	Roles       int
	Grants      int
}

// SeedDefaults installs the built-in permission catalogue and role
// hierarchy. Existing permissions and roles are left as they are, so the
// call is safe on every start.
func SeedDefaults(ctx context.Context, roles RoleRepository, logger *slog.Logger, now time.Time) (*SeedResult, error) {
	res := &SeedResult{}
	permIDs := make(map[string]string, len(defaultPermissions))

	for _, dp := range defaultPermissions {
		p, err := roles.GetPermissionByName(ctx, dp.name)
		if errors.Is(err, ErrPermissionNotFound) {
			p = &Permission{
				Name:        dp.name,
				Category:    dp.category,
				Description: dp.description,
				IsActive:    true,
				CreatedAt:   now,
			}
			err = roles.CreatePermission(ctx, p)
			if err == nil {
				res.Permissions++
			}
		}
		if err != nil {
			return res, fmt.Errorf("seeding permission %s: %w", dp.name, err)
		}
		permIDs[dp.name] = p.ID
	}

	roleIDs := make(map[string]string, len(defaultRoles))
	for _, dr := range defaultRoles {
		role, err := roles.GetRoleByName(ctx, dr.name)
		if err == nil {
			roleIDs[dr.name] = role.ID
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return res, fmt.Errorf("seeding role %s: %w", dr.name, err)
		}

		role = &Role{
			Name:        dr.name,
			Description: dr.description,
			ParentID:    roleIDs[dr.parent],
			Priority:    dr.priority,
			IsActive:    true,
			IsSystem:    true,
			CreatedAt:   now,
		}
		if err := roles.CreateRole(ctx, role); err != nil {
			return res, fmt.Errorf("seeding role %s: %w", dr.name, err)
		}
		roleIDs[dr.name] = role.ID
		res.Roles++

		for _, name := range dr.permissions {
			if err := roles.GrantPermission(ctx, role.ID, permIDs[name], "", now); err != nil {
				return res, fmt.Errorf("seeding grant %s to %s: %w", name, dr.name, err)
			}
			res.Grants++
		}
	}

	if res.Permissions > 0 || res.Roles > 0 {
		logger.Info("default roles and permissions seeded",
			"permissions", res.Permissions,
			"roles", res.Roles,
			"grants", res.Grants,
		)
	} else {
		logger.Debug("default roles and permissions already present")
	}
	return res, nil
}
