package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/raterudder/solarpayback/pkg/storage"
	"github.com/raterudder/solarpayback/pkg/types"
)

// loadSession returns the stored session or an empty one with the given ID.
func (s *Server) loadSession(ctx context.Context, sessionID string) (types.Session, error) {
	sess, err := s.storage.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return types.Session{ID: sessionID}, nil
	}
	if err != nil {
		return types.Session{}, err
	}
	return sess, nil
}

// saveSession stores sess and pushes its expiry out by the session TTL.
func (s *Server) saveSession(ctx context.Context, sess types.Session) error {
	now := s.now().UTC()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.sessionTTL)
	return s.storage.PutSession(ctx, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.storage.GetSession(ctx, s.getSessionID(r))
	if errors.Is(err, storage.ErrSessionNotFound) {
		writeJSONError(w, "no session", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get session", slog.Any("error", err))
		writeJSONError(w, "failed to get session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.storage.DeleteSession(ctx, s.getSessionID(r)); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete session", slog.Any("error", err))
		writeJSONError(w, "failed to delete session", http.StatusInternalServerError)
		return
	}
	s.clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// purgeExpiredSessions deletes expired sessions every purgeInterval until ctx
// is done.
func (s *Server) purgeExpiredSessions(ctx context.Context) {
	if s.purgeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeOnce(ctx)
		}
	}
}

func (s *Server) purgeOnce(ctx context.Context) {
	n, err := s.storage.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to purge expired sessions", slog.Any("error", err))
		return
	}
	if n > 0 {
		log.Ctx(ctx).InfoContext(ctx, "purged expired sessions", slog.Int("count", n))
	}
}
