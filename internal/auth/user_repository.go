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

// UserRepository persists accounts with their lockout and session state.
// The lockout and session methods are single conditional statements, so
// concurrent callers cannot interleave a read and a write.
type UserRepository interface {
	Create(ctx context.Context, user *User, primaryRoleID string) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	ListWithSessions(ctx context.Context) ([]User, error)
	SetActive(ctx context.Context, id string, active bool, actorID string, now time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
	RehashPassword(ctx context.Context, id, oldHash, newHash string) error

	RecordFailedLogin(ctx context.Context, id string, p LockoutPolicy, now time.Time) (*LoginFailure, error)
	RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error
	Unlock(ctx context.Context, id, actorID string, now time.Time) error

	ClaimSession(ctx context.Context, id string, c SessionClaim) (bool, error)
	ClearSession(ctx context.Context, id string, c SessionClear) (bool, error)
	TouchSession(ctx context.Context, id, sessionID string, now, staleBefore time.Time) (bool, error)

	AdminExists(ctx context.Context) (bool, error)
	BootstrapAdmin(ctx context.Context, user *User) error
}

// LoginFailure is the counter state after a recorded failed login.
type LoginFailure struct {
	Attempts    int
	LockedUntil *time.Time
}

// Locked reports whether this failure locked the account.
func (f *LoginFailure) Locked() bool {
	return f.LockedUntil != nil
}

// SessionClaim stores a new session on a user row. With StaleBefore set the
// claim only succeeds when the row holds no session or one whose last login
// is at or before StaleBefore. A nil StaleBefore replaces any session.
type SessionClaim struct {
	SessionID   string
	DeviceID    string
	Now         time.Time
	StaleBefore *time.Time
}

// SessionClear removes the stored session. ExpectedSessionID restricts the
// clear to that session; a non-zero StaleBefore restricts it to a session
// whose last login is at or before it.
type SessionClear struct {
	ExpectedSessionID string
	StaleBefore       time.Time
	Now               time.Time
}

const userColumns = `id, username, email, first_name, last_name, phone, password_hash,
	password_changed_at, is_active, is_locked, failed_login_attempts, locked_until,
	current_session_id, device_id, last_login, last_logout, created_by, updated_by,
	created_at, updated_at`

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new account and, when primaryRoleID is set, its primary
// role assignment in the same transaction. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User, primaryRoleID string) error {
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		if primaryRoleID == "" {
			return nil
		}
		return insertAssignment(ctx, tx, &UserRole{
			UserID:     user.ID,
			RoleID:     primaryRoleID,
			IsPrimary:  true,
			IsActive:   true,
			AssignedBy: user.CreatedBy,
			AssignedAt: user.CreatedAt,
		})
	})
	return wrapStoreError("creating user", err)
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByUsername retrieves a user by their username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, username ASC")
}

// ListWithSessions returns users that currently hold a session id.
func (r *SQLiteUserRepository) ListWithSessions(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, "SELECT "+userColumns+" FROM users WHERE current_session_id IS NOT NULL ORDER BY last_login ASC")
}

// SetActive activates or deactivates an account. Deactivation also drops
// any stored session.
func (r *SQLiteUserRepository) SetActive(ctx context.Context, id string, active bool, actorID string, now time.Time) error {
	ts := database.FormatTime(now)
	var (
		res sql.Result
		err error
	)
	if active {
		res, err = r.db.ExecContext(ctx,
			`UPDATE users SET is_active = 1, updated_by = ?, updated_at = ? WHERE id = ?`,
			nullString(actorID), ts, id)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE users SET is_active = 0,
			     last_logout = CASE WHEN current_session_id IS NOT NULL THEN ? ELSE last_logout END,
			     current_session_id = NULL, device_id = NULL,
			     updated_by = ?, updated_at = ?
			 WHERE id = ?`,
			ts, nullString(actorID), ts, id)
	}
	if err != nil {
		return internalError("updating user status", err)
	}
	if !rowsAffected(res) {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces a user's password hash and stamps the change.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	ts := database.FormatTime(now)
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, password_changed_at = ?, updated_at = ? WHERE id = ?`,
		passwordHash, ts, ts, id)
	if err != nil {
		return internalError("updating password", err)
	}
	if !rowsAffected(res) {
		return ErrUserNotFound
	}
	return nil
}

// RehashPassword swaps oldHash for newHash without recording a password
// change. It does nothing if the hash changed in the meantime.
func (r *SQLiteUserRepository) RehashPassword(ctx context.Context, id, oldHash, newHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND password_hash = ?`,
		newHash, id, oldHash)
	if err != nil {
		return internalError("rehashing password", err)
	}
	return nil
}

// failedAttemptsExpr is the counter value after one more failure. A lapsed
// lock restarts the count.
const failedAttemptsExpr = `(CASE WHEN is_locked = 1 THEN 1 ELSE failed_login_attempts + 1 END)`

// RecordFailedLogin increments the failure counter and locks the account
// when it reaches p.MaxAttempts, in one statement. It returns
// ErrAccountLocked when the account is already under an unexpired lock.
func (r *SQLiteUserRepository) RecordFailedLogin(ctx context.Context, id string, p LockoutPolicy, now time.Time) (*LoginFailure, error) {
	ts := database.FormatTime(now)
	lockedUntil := database.FormatTime(now.Add(p.Duration))

	var (
		attempts int
		until    sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET
		     failed_login_attempts = `+failedAttemptsExpr+`,
		     is_locked = CASE WHEN `+failedAttemptsExpr+` >= ? THEN 1 ELSE 0 END,
		     locked_until = CASE WHEN `+failedAttemptsExpr+` >= ? THEN ? ELSE NULL END,
		     updated_at = ?
		 WHERE id = ? AND NOT (is_locked = 1 AND (locked_until IS NULL OR locked_until > ?))
		 RETURNING failed_login_attempts, locked_until`,
		p.MaxAttempts, p.MaxAttempts, lockedUntil, ts, id, ts,
	).Scan(&attempts, &until)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountLocked
		}
		return nil, internalError("recording failed login", err)
	}

	lock, err := parseNullTime(until)
	if err != nil {
		return nil, internalError("recording failed login", err)
	}
	return &LoginFailure{Attempts: attempts, LockedUntil: lock}, nil
}

// RecordSuccessfulLogin clears the failure counter and any lock. The login
// time is recorded only when no session is stored, so a refused second
// login cannot extend another device's session window.
func (r *SQLiteUserRepository) RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error {
	ts := database.FormatTime(now)
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, is_locked = 0, locked_until = NULL,
		     last_login = CASE WHEN current_session_id IS NULL THEN ? ELSE last_login END,
		     updated_at = ?
		 WHERE id = ?`,
		ts, ts, id)
	if err != nil {
		return internalError("recording login", err)
	}
	if !rowsAffected(res) {
		return ErrUserNotFound
	}
	return nil
}

// Unlock clears a lock and the failure counter.
func (r *SQLiteUserRepository) Unlock(ctx context.Context, id, actorID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, is_locked = 0, locked_until = NULL,
		     updated_by = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(actorID), database.FormatTime(now), id)
	if err != nil {
		return internalError("unlocking user", err)
	}
	if !rowsAffected(res) {
		return ErrUserNotFound
	}
	return nil
}

// ClaimSession atomically stores a session on the user row. It returns
// false when the row already holds a live session.
func (r *SQLiteUserRepository) ClaimSession(ctx context.Context, id string, c SessionClaim) (bool, error) {
	ts := database.FormatTime(c.Now)
	query := `UPDATE users SET current_session_id = ?, device_id = ?, last_login = ?, updated_at = ?
		WHERE id = ?`
	args := []any{c.SessionID, nullString(c.DeviceID), ts, ts, id}
	if c.StaleBefore != nil {
		query += ` AND (current_session_id IS NULL OR last_login IS NULL OR last_login <= ?)`
		args = append(args, database.FormatTime(*c.StaleBefore))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, internalError("claiming session", err)
	}
	return rowsAffected(res), nil
}

// ClearSession removes the stored session when it matches c. It returns
// false when nothing was cleared.
func (r *SQLiteUserRepository) ClearSession(ctx context.Context, id string, c SessionClear) (bool, error) {
	ts := database.FormatTime(c.Now)
	query := `UPDATE users SET current_session_id = NULL, device_id = NULL, last_logout = ?, updated_at = ?
		WHERE id = ? AND current_session_id IS NOT NULL`
	args := []any{ts, ts, id}
	if c.ExpectedSessionID != "" {
		query += ` AND current_session_id = ?`
		args = append(args, c.ExpectedSessionID)
	}
	if !c.StaleBefore.IsZero() {
		query += ` AND (last_login IS NULL OR last_login <= ?)`
		args = append(args, database.FormatTime(c.StaleBefore))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, internalError("clearing session", err)
	}
	return rowsAffected(res), nil
}

// TouchSession restamps the login time of sessionID if it is still stored
// and its last login is after staleBefore.
func (r *SQLiteUserRepository) TouchSession(ctx context.Context, id, sessionID string, now, staleBefore time.Time) (bool, error) {
	ts := database.FormatTime(now)
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = ?, updated_at = ?
		 WHERE id = ? AND current_session_id = ? AND last_login > ?`,
		ts, ts, id, sessionID, database.FormatTime(staleBefore))
	if err != nil {
		return false, internalError("refreshing session", err)
	}
	return rowsAffected(res), nil
}

// AdminExists reports whether any active user holds an active Admin
// assignment on an active Admin role.
func (r *SQLiteUserRepository) AdminExists(ctx context.Context) (bool, error) {
	exists, err := adminExists(ctx, r.db)
	if err != nil {
		return false, internalError("checking for admin", err)
	}
	return exists, nil
}

func adminExists(ctx context.Context, q dbtx) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM user_roles ur
		     JOIN roles r ON r.id = ur.role_id
		     JOIN users u ON u.id = ur.user_id
		     WHERE r.name = ? AND ur.is_active = 1
		       AND r.is_active = 1 AND u.is_active = 1
		 )`, RoleAdmin).Scan(&exists)
	return exists == 1, err
}

// BootstrapAdmin creates the first administrator in one transaction: it
// re-checks that no admin exists, creates the Admin role with the
// all-access grant if missing, inserts user and assigns Admin as primary.
func (r *SQLiteUserRepository) BootstrapAdmin(ctx context.Context, user *User) error {
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		exists, err := adminExists(ctx, tx)
		if err != nil {
			return err
		}
		if exists {
			return ErrAdminAlreadyExists
		}

		role, err := ensureAdminRole(ctx, tx, user.CreatedAt)
		if err != nil {
			return err
		}
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		return insertAssignment(ctx, tx, &UserRole{
			UserID:     user.ID,
			RoleID:     role.ID,
			IsPrimary:  true,
			IsActive:   true,
			AssignedBy: user.ID,
			AssignedAt: user.CreatedAt,
		})
	})
	return wrapStoreError("bootstrapping admin", err)
}

// ensureAdminRole returns the Admin role, creating it and granting it the
// all-access permission when absent.
func ensureAdminRole(ctx context.Context, tx dbtx, now time.Time) (*Role, error) {
	role, err := getRole(ctx, tx, "SELECT "+roleColumns+" FROM roles WHERE name = ?", RoleAdmin)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}

	role = &Role{
		Name:        RoleAdmin,
		Description: "Full system access",
		Priority:    100,
		IsActive:    true,
		IsSystem:    true,
		CreatedAt:   now,
	}
	if err := insertRole(ctx, tx, role); err != nil {
		return nil, err
	}

	perm, err := getPermission(ctx, tx, "SELECT "+permissionColumns+" FROM permissions WHERE name = ?", PermAll)
	if errors.Is(err, ErrPermissionNotFound) {
		perm = &Permission{Name: PermAll, Category: CategorySystem, Description: "All permissions", IsActive: true, CreatedAt: now}
		err = insertPermission(ctx, tx, perm)
	}
	if err != nil {
		return nil, err
	}
	if err := upsertGrant(ctx, tx, role.ID, perm.ID, "", now); err != nil {
		return nil, err
	}
	return role, nil
}

// getUser executes a query and scans a single user result.
func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUserFrom(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, internalError("loading user", err)
	}
	return u, nil
}

func (r *SQLiteUserRepository) listUsers(ctx context.Context, query string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, internalError("listing users", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUserFrom(rows)
		if err != nil {
			return nil, internalError("listing users", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, internalError("iterating users", err)
	}
	return users, nil
}

func insertUser(ctx context.Context, q dbtx, user *User) error {
	if user.ID == "" {
		user.ID = ids.NewEntity(ids.PrefixUser)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.CreatedAt
	ts := database.FormatTime(user.CreatedAt)

	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, username, email, first_name, last_name, phone, password_hash,
		     password_changed_at, is_active, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.FirstName, user.LastName, nullString(user.Phone),
		user.PasswordHash, nullTime(user.PasswordChangedAt), boolToInt(user.IsActive),
		nullString(user.CreatedBy), ts, ts,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, "users.username"):
		return ErrUsernameExists
	case isUniqueViolation(err, "users.email"):
		return ErrEmailExists
	default:
		return err
	}
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var (
		u                                         User
		phone, sessionID, deviceID, createdBy     sql.NullString
		updatedBy, passwordChangedAt, lockedUntil sql.NullString
		lastLogin, lastLogout                     sql.NullString
		isActive, isLocked                        int
		createdAt, updatedAt                      string
	)

	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &phone,
		&u.PasswordHash, &passwordChangedAt, &isActive, &isLocked, &u.FailedLoginAttempts,
		&lockedUntil, &sessionID, &deviceID, &lastLogin, &lastLogout, &createdBy, &updatedBy,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Phone = phone.String
	u.CurrentSessionID = sessionID.String
	u.DeviceID = deviceID.String
	u.CreatedBy = createdBy.String
	u.UpdatedBy = updatedBy.String
	u.IsActive = isActive != 0
	u.IsLocked = isLocked != 0

	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&u.PasswordChangedAt, passwordChangedAt},
		{&u.LockedUntil, lockedUntil},
		{&u.LastLogin, lastLogin},
		{&u.LastLogout, lastLogout},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
	}
	if u.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if u.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	return &u, nil
}

// wrapStoreError passes domain errors through and marks everything else
// internal.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindInternal:
		if errors.Is(err, ErrInternal) {
			return err
		}
		return internalError(op, err)
	default:
		return err
	}
}
