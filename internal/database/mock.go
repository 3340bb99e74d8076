package database

import (
	"context"

	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) Append(ctx context.Context, chatId string, msg types.Message) error {
	args := m.Called(ctx, chatId, msg)
	return args.Error(0)
}
func (m *MockMessageStore) List(ctx context.Context, chatId string, page, limit int) ([]types.Message, int, error) {
	args := m.Called(ctx, chatId, page, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}
func (m *MockMessageStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockAccountStore) GetAccountById(ctx context.Context, id string) (Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockAccountStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}
