package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestSeedDefaults_CreatesCatalogue(t *testing.T) {
	db := testDB(t)
	roles := NewRoleRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	res, err := SeedDefaults(ctx, roles, slog.New(slog.DiscardHandler), now)
	if err != nil {
		t.Fatalf("SeedDefaults() error = %v", err)
	}

	if res.Permissions != len(defaultPermissions) {
		t.Errorf("Permissions = %d, want %d", res.Permissions, len(defaultPermissions))
	}
	if res.Roles != len(defaultRoles) {
		t.Errorf("Roles = %d, want %d", res.Roles, len(defaultRoles))
	}

	wantGrants := 0
	for _, dr := range defaultRoles {
		wantGrants += len(dr.permissions)
	}
	if res.Grants != wantGrants {
		t.Errorf("Grants = %d, want %d", res.Grants, wantGrants)
	}

	// The built-in hierarchy is wired up.
	parents := map[string]string{
		RoleManager:          RoleAssistantManager,
		RoleAssistantManager: RoleSalesAssistant,
	}
	for child, parent := range parents {
		c, err := roles.GetRoleByName(ctx, child)
		if err != nil {
			t.Fatalf("GetRoleByName(%s) error = %v", child, err)
		}
		p, err := roles.GetRoleByName(ctx, parent)
		if err != nil {
			t.Fatalf("GetRoleByName(%s) error = %v", parent, err)
		}
		if c.ParentID != p.ID {
			t.Errorf("%s parent = %q, want %s (%q)", child, c.ParentID, parent, p.ID)
		}
		if !c.IsSystem {
			t.Errorf("%s should be a system role", child)
		}
	}
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	db := testDB(t)
	roles := NewRoleRepository(db)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if _, err := SeedDefaults(ctx, roles, logger, now); err != nil {
		t.Fatalf("first SeedDefaults() error = %v", err)
	}

	// An operator withdraws a default grant; reseeding must not restore it.
	sa, err := roles.GetRoleByName(ctx, RoleSalesAssistant)
	if err != nil {
		t.Fatalf("GetRoleByName() error = %v", err)
	}
	perm, err := roles.GetPermissionByName(ctx, PermPOSCreate)
	if err != nil {
		t.Fatalf("GetPermissionByName() error = %v", err)
	}
	if err := roles.RevokePermission(ctx, sa.ID, perm.ID); err != nil {
		t.Fatalf("RevokePermission() error = %v", err)
	}

	res, err := SeedDefaults(ctx, roles, logger, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second SeedDefaults() error = %v", err)
	}
	if *res != (SeedResult{}) {
		t.Errorf("second SeedDefaults() = %+v, want nothing created", *res)
	}

	perms, err := roles.RolePermissions(ctx, sa.ID)
	if err != nil {
		t.Fatalf("RolePermissions() error = %v", err)
	}
	for _, p := range perms {
		if p.Name == PermPOSCreate {
			t.Errorf("revoked grant %s was restored by reseeding", PermPOSCreate)
		}
	}

	all, err := roles.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles() error = %v", err)
	}
	if len(all) != len(defaultRoles) {
		t.Errorf("ListRoles() = %d roles, want %d", len(all), len(defaultRoles))
	}
}
