package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/rs/cors"
)

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// the API never serves documents
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware lets the configured origins call the API from a browser,
// including with the session cookie.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if len(s.corsOrigins) == 0 {
		return next
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(next)
}

// sessionMiddleware puts the caller's session ID in the context, issuing a
// new one when the cookie is missing or malformed.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var sessionID string
		c, err := r.Cookie(sessionCookie)
		if err != nil && !errors.Is(err, http.ErrNoCookie) {
			log.Ctx(ctx).WarnContext(ctx, "failed to get session cookie", slog.Any("error", err))
		}
		if c != nil {
			if id, err := uuid.Parse(c.Value); err == nil {
				sessionID = id.String()
			} else {
				log.Ctx(ctx).DebugContext(ctx, "ignoring malformed session cookie")
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		// refresh the cookie so it lives as long as the stored session
		s.setSessionCookie(w, r, sessionID)

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("sessionID", sessionID)))
		ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	sameSite, secure := s.cookieSameSite(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

// cookieSameSite returns the SameSite mode for the session cookie. Browsers
// only send a cookie on cross-site requests when it is SameSite=None, which in
// turn must be Secure.
func (s *Server) cookieSameSite(r *http.Request) (http.SameSite, bool) {
	if len(s.corsOrigins) > 0 {
		return http.SameSiteNoneMode, true
	}
	return http.SameSiteLaxMode, r.TLS != nil
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	sameSite, secure := s.cookieSameSite(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}
