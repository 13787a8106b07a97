package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/solarpayback/pkg/storage"
	"github.com/raterudder/solarpayback/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSession(ctx context.Context, sessionID string) (types.Session, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(types.Session), args.Error(1)
}

func (m *MockDatabase) PutSession(ctx context.Context, session types.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDatabase) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockDatabase) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
