package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int               `json:"status"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Rule    string            `json:"rule,omitempty"`
	Fields  []auth.FieldError `json:"fields,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeRateLimited  = "rate_limited"
)

// Generic messages. Authentication and authorization failures never say
// which check failed.
const (
	msgInvalidLogin    = "invalid username or password"
	msgAuthRequired    = "authentication required"
	msgForbidden       = "insufficient permissions"
	msgInternal        = "internal server error"
	msgInvalidJSONBody = "invalid JSON body"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, msgForbidden)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msgInternal)
}

// notFoundMessages names the missing entity for each not-found sentinel.
var notFoundMessages = []struct {
	err error
	msg string
}{
	{auth.ErrUserNotFound, "user not found"},
	{auth.ErrRoleNotFound, "role not found"},
	{auth.ErrPermissionNotFound, "permission not found"},
	{auth.ErrAssignmentNotFound, "role assignment not found"},
	{auth.ErrGrantNotFound, "permission grant not found"},
}

// writeServiceError maps an error from the auth core onto a response.
// authMsg is the generic text used for any authentication failure.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, authMsg string) {
	switch auth.KindOf(err) {
	case auth.KindValidation:
		resp := Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeValidation,
			Message: publicMessage(err, auth.ErrValidation),
		}
		var ve *auth.ValidationError
		if errors.As(err, &ve) {
			resp.Message = "validation failed"
			resp.Fields = ve.Fields
		}
		var pe *auth.PolicyError
		if errors.As(err, &pe) {
			resp.Message = pe.Message
			resp.Rule = string(pe.Rule)
		}
		writeJSON(w, resp.Status, resp)

	case auth.KindAuthentication:
		writeUnauthorized(w, authMsg)

	case auth.KindAuthorization:
		writeForbidden(w)

	case auth.KindConflict:
		writeError(w, http.StatusConflict, ErrCodeConflict, publicMessage(err, auth.ErrConflict))

	case auth.KindNotFound:
		msg := "not found"
		for _, nf := range notFoundMessages {
			if errors.Is(err, nf.err) {
				msg = nf.msg
				break
			}
		}
		writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)

	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w)
	}
}

// publicMessage strips the category prefix from err's text, leaving the
// specific reason ("username already exists").
func publicMessage(err, category error) string {
	msg := err.Error()
	if i := strings.Index(msg, category.Error()+": "); i >= 0 {
		return msg[i+len(category.Error())+2:]
	}
	return msg
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
