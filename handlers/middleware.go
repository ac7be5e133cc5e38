package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/metrics"
	"github.com/camden-git/framearchive/permissions"
	"github.com/camden-git/framearchive/services"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// ProfileContextKey is the key used to store the authenticated profile in the request context.
	ProfileContextKey ContextKey = "profile"
)

// Authenticator resolves a token to the account owning it.
type Authenticator interface {
	Lookup(ctx context.Context, token string) (*services.Profile, error)
}

// ProfileFromContext returns the authenticated profile, if any.
func ProfileFromContext(ctx context.Context) (*services.Profile, bool) {
	p, ok := ctx.Value(ProfileContextKey).(*services.Profile)
	return p, ok && p != nil
}

// AuthMiddleware resolves the Authorization header against auth and stores the
// profile in the request context. a nil auth disables authentication and every
// request acts as staff.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				ctx := context.WithValue(r.Context(), ProfileContextKey, &services.Profile{Username: "anonymous", IsStaff: true})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, ok, err := services.ParseAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", services.TokenKeyword)
				WriteAPIError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
				return
			}
			if !ok {
				w.Header().Set("WWW-Authenticate", services.TokenKeyword)
				WriteAPIError(w, http.StatusUnauthorized, "not_authenticated", "Authentication credentials were not provided.")
				return
			}

			profile, err := auth.Lookup(r.Context(), token)
			if err != nil {
				if services.ErrUnauthorized.Has(err) {
					w.Header().Set("WWW-Authenticate", services.TokenKeyword)
				}
				writeServiceError(w, r, err)
				return
			}

			logging.Ctx(r.Context()).Debug().Str("user", profile.Username).Msg("authenticated request")
			ctx := context.WithValue(r.Context(), ProfileContextKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects requests whose profile lacks permission. It should
// be used after AuthMiddleware.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile, ok := ProfileFromContext(r.Context())
			if !ok {
				WriteAPIError(w, http.StatusUnauthorized, "not_authenticated", "Authentication credentials were not provided.")
				return
			}
			if !permissions.Has(profile.IsStaff, permission) {
				WriteAPIError(w, http.StatusForbidden, "permission_denied", "You do not have permission to perform this action.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestContext attaches the chi request id and a fresh correlation id to
// the request context so logging.Ctx picks them up.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithNewCorrelationID(r.Context())
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Metrics records request counts and latency by route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(start))
	})
}

// AccessLog writes one structured log line per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
