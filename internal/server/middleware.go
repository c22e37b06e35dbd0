package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vaultline/internal/domain"
)

type contextKey int

const sessionClaimsKey contextKey = iota

// SessionClaimsFromContext returns the claims requireSession stored.
func SessionClaimsFromContext(ctx context.Context) (*domain.SessionClaims, bool) {
	c, ok := ctx.Value(sessionClaimsKey).(*domain.SessionClaims)
	return c, ok
}

// accessLog records method, path, status, bytes and duration per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Infof("[%s] %s %s %s %d %dB %s",
			chimiddleware.GetReqID(r.Context()),
			r.Method, r.URL.Path, r.RemoteAddr,
			ww.Status(), ww.BytesWritten(), time.Since(start).Truncate(time.Microsecond))
	})
}

func authToken(r *http.Request, scheme string) (string, bool) {
	h := r.Header.Get("Authorization")
	prefix := scheme + " "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// requireSession verifies the Bearer session token and stores its claims.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := authToken(r, "Bearer")
		if !ok {
			s.writeError(w, r, domain.NewAuthError("missing_token", "bearer token required", nil))
			return
		}
		claims, err := s.shiv.VerifySessionToken(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
