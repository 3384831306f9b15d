// Package api implements the HTTP REST API and WebSocket server for the
// retail authentication core.
//
// This package provides:
//   - Login, logout, token refresh and password change endpoints
//   - First-administrator bootstrap endpoints
//   - User, role and permission administration guarded by RBAC
//   - Session introspection and cleanup for administrators
//   - Audit trail queries
//   - A WebSocket hub that tells connected tills when their session ends
//   - Prometheus metrics
//
// # Security
//
// Every protected route runs the authenticate middleware, which verifies the
// bearer token through the core's token verifier (signature, expiry, account
// state and session binding) and places the resulting principal in the request
// context. Permission guards are evaluated fresh on every request.
//
// Authentication failures are collapsed to one generic message so callers
// cannot probe which usernames exist or whether an account is locked.
//
// WebSocket connections use single-use tickets to keep tokens out of URLs.
//
// # Graceful Degradation
//
// The server operates without MQTT. Session revocations are then only pushed
// to WebSocket clients connected to this instance.
package api
