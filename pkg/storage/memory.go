package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raterudder/solarpayback/pkg/types"
)

// MemoryProvider keeps sessions in process memory. Sessions are lost on
// restart, which is fine for a single-instance deployment.
type MemoryProvider struct {
	mu       sync.RWMutex
	sessions map[string]types.Session
	now      func() time.Time
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return NewMemoryProviderWithClock(time.Now)
}

// NewMemoryProviderWithClock returns an empty MemoryProvider that checks
// expiry against now. It must be the same clock the sessions are stamped
// with.
func NewMemoryProviderWithClock(now func() time.Time) *MemoryProvider {
	return &MemoryProvider{
		sessions: make(map[string]types.Session),
		now:      now,
	}
}

// GetSession returns a copy of the stored session.
func (m *MemoryProvider) GetSession(ctx context.Context, sessionID string) (types.Session, error) {
	if sessionID == "" {
		return types.Session{}, fmt.Errorf("sessionID cannot be empty")
	}
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || s.Expired(m.now()) {
		return types.Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// PutSession creates or replaces the session.
func (m *MemoryProvider) PutSession(ctx context.Context, session types.Session) error {
	if session.ID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	m.mu.Lock()
	m.sessions[session.ID] = cloneSession(session)
	m.mu.Unlock()
	return nil
}

// DeleteSession removes the session. Deleting a missing session is not an
// error.
func (m *MemoryProvider) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// DeleteExpiredSessions implements Database.
func (m *MemoryProvider) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Close implements Database.
func (m *MemoryProvider) Close() error {
	return nil
}
