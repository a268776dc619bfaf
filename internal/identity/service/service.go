package service

import (
	"context"
	"errors"
	"log/slog"

	"aeroinsight/internal/identity/models"
	dErrors "aeroinsight/pkg/domain-errors"
	"aeroinsight/pkg/platform/sentinel"
	"aeroinsight/pkg/requestcontext"
)

// ProfileStore looks up provisioned profiles. FindByUID returns
// sentinel.ErrNotFound when no profile exists for uid; any other error is a
// backend failure.
type ProfileStore interface {
	FindByUID(ctx context.Context, uid string) (*models.Profile, error)
}

// Resolver turns an authenticated principal into its profile.
type Resolver struct {
	profiles ProfileStore
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a resolver over profiles.
func New(profiles ProfileStore, opts ...Option) *Resolver {
	r := &Resolver{profiles: profiles, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the profile for p. A legitimately absent profile yields
// CodeProfileMissing; a store failure yields CodeUnavailable so callers can
// retry instead of treating the user as unprovisioned.
func (r *Resolver) Resolve(ctx context.Context, p models.Principal) (*models.Profile, error) {
	if p.UID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	profile, err := r.profiles.FindByUID(ctx, p.UID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeProfileMissing, "no profile is provisioned for this account")
		}
		r.logger.ErrorContext(ctx, "profile lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"uid", p.UID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "profile store unavailable")
	}
	out := *profile
	out.Role = models.ParseRole(string(profile.Role))
	return &out, nil
}
