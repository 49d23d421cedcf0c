package app

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"classverify/internal/auth"
	"classverify/internal/rbac"
)

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	identity, err := s.service.IdentityFromToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Identity{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Identity lookup failed", nil)
		return Identity{}, false
	}
	return identity, true
}

// authorize writes a 403 and reports false when the caller's role does not
// allow action.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, identity Identity, action rbac.Action) bool {
	if s.service.Can(identity.Role, action) {
		return true
	}
	s.forbid(w, r, identity, action)
	return false
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, identity Identity, action rbac.Action) {
	s.log.Info("access denied",
		zap.String("request_id", requestID(r.Context())),
		zap.String("user_id", identity.UserID),
		zap.String("role", identity.Role),
		zap.String("action", string(action)),
		zap.String("path", r.URL.Path),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}
