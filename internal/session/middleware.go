package session

import (
	"log/slog"
	"net/http"

	"aeroinsight/internal/identity/models"
	"aeroinsight/internal/platform/middleware"
	dErrors "aeroinsight/pkg/domain-errors"
	"aeroinsight/pkg/platform/httputil"
	"aeroinsight/pkg/requestcontext"
)

// TokenVerifier turns a bearer token into the principal it asserts.
type TokenVerifier interface {
	VerifyToken(token string) (models.Principal, error)
}

// Authenticator builds the request Session from the bearer token.
type Authenticator struct {
	verifier TokenVerifier
	resolver ProfileResolver
	logger   *slog.Logger
}

func NewAuthenticator(verifier TokenVerifier, resolver ProfileResolver, logger *slog.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, resolver: resolver, logger: logger}
}

// Middleware attaches a settled Session to every request. Requests without
// a token get an unauthenticated session; an invalid token is rejected with
// 401; a principal without a profile gets a degraded session; a resolver
// outage is a 503 since the caller's role cannot be known.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)

		token, ok := middleware.BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r.WithContext(WithSession(ctx, &Session{Settled: true})))
			return
		}

		principal, err := a.verifier.VerifyToken(token)
		if err != nil {
			a.logger.WarnContext(ctx, "unauthorized access - invalid token",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
			return
		}

		sess := &Session{Principal: &principal, Settled: true}
		profile, err := a.resolver.Resolve(ctx, principal)
		switch {
		case err == nil:
			sess.Profile = profile
		case dErrors.HasCode(err, dErrors.CodeProfileMissing):
			a.logger.InfoContext(ctx, "principal has no profile",
				"request_id", requestID,
				"uid", principal.UID,
			)
		default:
			a.logger.ErrorContext(ctx, "profile resolution failed",
				"request_id", requestID,
				"uid", principal.UID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
	})
}

// RequireSession rejects requests without a principal. Browser navigations
// are redirected to loginPath with 303; API calls get a 401 JSON body.
func RequireSession(loginPath string) func(http.Handler) http.Handler {
	guard := NewGuard(loginPath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := FromContext(r.Context())
			st := State{Settled: sess.Settled, Principal: sess.Principal, Profile: sess.Profile}
			decision := guard.Decide(st)
			if decision.Kind == Allow {
				next.ServeHTTP(w, r)
				return
			}
			if middleware.WantsHTML(r) {
				http.Redirect(w, r, decision.Location, http.StatusSeeOther)
				return
			}
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		})
	}
}
