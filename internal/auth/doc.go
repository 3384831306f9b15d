// Package auth is the authentication and authorisation core of the retail
// back office.
//
// It provides:
//   - Credential checks with Argon2id (or bcrypt) hashes, a password
//     strength policy and account lockout after repeated failures
//   - HS256 access tokens that may be bound to a login session
//   - Role-based access control over a role hierarchy, where a role
//     inherits every permission of its ancestors
//   - One live session per user (Admins excepted) with role-based timeouts
//   - A bootstrap gate that creates the first administrator exactly once
//
// Every operation that changes state raises exactly one audit event. All
// errors wrap one of the category sentinels (ErrValidation,
// ErrAuthentication, ErrAuthorization, ErrConflict, ErrNotFound,
// ErrInternal); KindOf classifies them for transports.
//
// The lockout counter and the single-session check are each a single
// conditional UPDATE, so concurrent logins cannot race past them.
package auth
