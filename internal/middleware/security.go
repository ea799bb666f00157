package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	apierrors "cloudloader/internal/errors"
	"cloudloader/internal/services"
)

type operatorKey struct{}

// WithOperator stores the authenticated operator in ctx
func WithOperator(ctx context.Context, p *services.OperatorPrincipal) context.Context {
	return context.WithValue(ctx, operatorKey{}, p)
}

// OperatorFrom returns the operator authenticated by OperatorAuth
func OperatorFrom(ctx context.Context) (*services.OperatorPrincipal, bool) {
	p, ok := ctx.Value(operatorKey{}).(*services.OperatorPrincipal)
	return p, ok
}

// OperatorAuth requires an operator credential in the Authorization header.
// Both "Bearer <token>" and the raw token are accepted.
func OperatorAuth(logger *slog.Logger, auth *services.AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if !auth.Enabled() {
				apierrors.WriteError(w, r, apierrors.New(http.StatusNotFound, apierrors.CodeNotFound, "Admin API is disabled"))
				return
			}

			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				logger.WarnContext(ctx, "missing authorization header",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", ClientIP(r),
				)
				apierrors.WriteError(w, r, apierrors.ErrUnauthorized)
				return
			}

			credential := header
			if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
				credential = strings.TrimSpace(token)
			}

			principal, err := auth.Authenticate(ctx, credential)
			if err != nil {
				logger.WarnContext(ctx, "authentication failed",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", ClientIP(r),
				)
				apierrors.WriteError(w, r, apierrors.New(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, principal)))
		})
	}
}

// LoginLimiter limits requests per client IP within window using httprate.
func LoginLimiter(limit int, window time.Duration) func(next http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			apierrors.WriteError(w, r, apierrors.ErrRateLimitExceeded)
		}),
	)
}

// AuditLog records every operator request on the admin surface
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &auditResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			subject, method := "", ""
			if p, ok := OperatorFrom(r.Context()); ok {
				subject, method = p.Subject, p.Method
			}
			logger.InfoContext(r.Context(), "audit log",
				"event_type", "admin_request",
				"operator", subject,
				"auth_method", method,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ClientIP(r),
				"status", ww.statusCode,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// auditResponseWriter captures the response status code
type auditResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *auditResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *auditResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
