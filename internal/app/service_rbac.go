package app

import (
	"time"

	"classverify/internal/auth"
	"classverify/internal/rbac"
)

// Identity is the caller behind a bearer token.
type Identity struct {
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

func (s *Service) IdentityFromToken(token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// IssueToken mints a token for another reviewer. Only admins reach this.
func (s *Service) IssueToken(name, role string, ttl time.Duration) (map[string]any, error) {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	claims := auth.NewClaims(name, string(rbac.Normalize(role)), ttl)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"token":     token,
		"userId":    claims.Sub,
		"userName":  claims.Name,
		"role":      claims.Role,
		"expiresAt": time.Unix(claims.Exp, 0).UTC().Format(time.RFC3339),
	}, nil
}
