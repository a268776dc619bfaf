// Package session carries the per-request authentication state and guards
// routes that need a signed-in caller.
package session

import (
	"context"

	"aeroinsight/internal/identity/models"
	"aeroinsight/internal/policy"
	dErrors "aeroinsight/pkg/domain-errors"
)

// Session is the authentication context of one caller. A nil Principal
// means nobody is signed in. Profile is nil when the principal has no
// provisioned profile; such a session is degraded, not invalid.
type Session struct {
	Principal *models.Principal
	Profile   *models.Profile
	Settled   bool
}

// Authenticated reports whether a principal is present.
func (s *Session) Authenticated() bool {
	return s != nil && s.Principal != nil && s.Principal.UID != ""
}

// Subject returns the policy view of the session.
func (s *Session) Subject() policy.Subject {
	if !s.Authenticated() {
		return policy.Subject{}
	}
	return policy.SubjectFor(s.Principal.UID, s.Profile)
}

// RequireProfile returns CodeUnauthorized without a principal and
// CodeProfileMissing without a profile.
func (s *Session) RequireProfile() error {
	if !s.Authenticated() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if s.Profile == nil {
		return dErrors.New(dErrors.CodeProfileMissing, "no profile is provisioned for this account")
	}
	return nil
}

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session set by Middleware, or an unauthenticated
// settled session when none is present.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s != nil {
		return s
	}
	return &Session{Settled: true}
}
