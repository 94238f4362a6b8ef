package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/egaugemx/tarifador/pkg/storage"
	"github.com/egaugemx/tarifador/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertClients(ctx context.Context, clients []types.Client) (int, int, error) {
	args := m.Called(ctx, clients)
	if len(args) > 0 {
		return args.Int(0), args.Int(1), args.Error(2)
	}
	return 0, 0, nil
}

func (m *MockDatabase) ListClients(ctx context.Context, activeOnly bool) ([]types.Client, error) {
	args := m.Called(ctx, activeOnly)
	if len(args) > 0 {
		clients, _ := args.Get(0).([]types.Client)
		return clients, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetClient(ctx context.Context, clientID string) (types.Client, error) {
	args := m.Called(ctx, clientID)
	if len(args) > 0 {
		return args.Get(0).(types.Client), args.Error(1)
	}
	return types.Client{}, nil
}

func (m *MockDatabase) SetClientActive(ctx context.Context, clientID string, active bool) error {
	args := m.Called(ctx, clientID, active)
	return args.Error(0)
}

func (m *MockDatabase) DeleteClient(ctx context.Context, clientID string) error {
	args := m.Called(ctx, clientID)
	return args.Error(0)
}

func (m *MockDatabase) BulkClientAction(ctx context.Context, action types.ClientBulkAction) (int, error) {
	args := m.Called(ctx, action)
	if len(args) > 0 {
		return args.Int(0), args.Error(1)
	}
	return 0, nil
}

func (m *MockDatabase) UpsertReadings(ctx context.Context, clientID string, readings []types.Reading) error {
	args := m.Called(ctx, clientID, readings)
	return args.Error(0)
}

func (m *MockDatabase) GetReadings(ctx context.Context, clientID string, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, clientID, start, end)
	if len(args) > 0 {
		readings, _ := args.Get(0).([]types.Reading)
		return readings, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) ReadingColumns(ctx context.Context, clientID string) ([]string, error) {
	args := m.Called(ctx, clientID)
	if len(args) > 0 {
		columns, _ := args.Get(0).([]string)
		return columns, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) ReadingStats(ctx context.Context, clientID string) (types.ReadingStats, error) {
	args := m.Called(ctx, clientID)
	if len(args) > 0 {
		return args.Get(0).(types.ReadingStats), args.Error(1)
	}
	return types.ReadingStats{}, nil
}

func (m *MockDatabase) SaveInvoice(ctx context.Context, invoice types.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockDatabase) GetInvoice(ctx context.Context, invoiceID string) (types.Invoice, error) {
	args := m.Called(ctx, invoiceID)
	if len(args) > 0 {
		return args.Get(0).(types.Invoice), args.Error(1)
	}
	return types.Invoice{}, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
