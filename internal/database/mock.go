package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, id int64) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) TouchAccount(ctx context.Context, id int64) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) FindOrCreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomById(ctx context.Context, id int64) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	args := m.Called(name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) ListPublicRooms(ctx context.Context) ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockChatRepository) SoftDeleteRoom(ctx context.Context, id int64) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) AddMember(ctx context.Context, roomId, userId int64) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) RemoveMember(ctx context.Context, roomId, userId int64) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) IsMember(ctx context.Context, roomId, userId int64) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, id int64) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, query MessageQuery) ([]Message, error) {
	args := m.Called(query)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) CountMessages(ctx context.Context, roomId int64) (int64, error) {
	args := m.Called(roomId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (Message, error) {
	args := m.Called(id, content, editedAt)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) MarkMessageDeleted(ctx context.Context, id int64) error {
	args := m.Called(id)
	return args.Error(0)
}
