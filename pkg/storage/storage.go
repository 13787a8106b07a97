package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raterudder/solarpayback/pkg/types"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// Database persists the per-browser sessions of the API. A session that has
// expired is reported as ErrSessionNotFound even before it is purged.
type Database interface {
	GetSession(ctx context.Context, sessionID string) (types.Session, error)
	PutSession(ctx context.Context, session types.Session) error
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteExpiredSessions removes every session that expired at or before
	// now and returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Close() error
}

// cloneSession copies everything s points to so callers can't mutate a
// stored session.
func cloneSession(s types.Session) types.Session {
	if s.Sizing != nil {
		in := *s.Sizing
		s.Sizing = &in
	}
	if s.Result != nil {
		res := *s.Result
		res.CostBreakdown = append([]types.CostItem(nil), s.Result.CostBreakdown...)
		s.Result = &res
	}
	if s.Assumptions != nil {
		a := *s.Assumptions
		s.Assumptions = &a
	}
	return s
}
