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
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) ResolveUsers(ctx context.Context, ids []string) ([]User, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) GetRoomWithParticipants(ctx context.Context, roomId string) (*Room, error) {
	args := m.Called(ctx, roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(ctx context.Context, userId string) ([]RoomSummary, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]RoomSummary), args.Error(1)
}
func (m *MockChatRepository) ListRoomIdsForUser(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockChatRepository) AddParticipant(ctx context.Context, roomId, userId string, joinedAt time.Time) error {
	args := m.Called(ctx, roomId, userId, joinedAt)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteParticipant(ctx context.Context, roomId, userId string) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) TouchRoom(ctx context.Context, roomId string, at time.Time) error {
	args := m.Called(ctx, roomId, at)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string, editedAt time.Time) (Message, error) {
	args := m.Called(ctx, messageId, content, editedAt)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, messageId string) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, query MessageQuery) ([]Message, int, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]Message), args.Int(1), args.Error(2)
}
func (m *MockChatRepository) ListReactions(ctx context.Context, messageIds []string) ([]Reaction, error) {
	args := m.Called(ctx, messageIds)
	return args.Get(0).([]Reaction), args.Error(1)
}
func (m *MockChatRepository) ListReads(ctx context.Context, messageIds []string) ([]MessageRead, error) {
	args := m.Called(ctx, messageIds)
	return args.Get(0).([]MessageRead), args.Error(1)
}
func (m *MockChatRepository) UpsertRead(ctx context.Context, messageId, userId string, readAt time.Time) (MessageRead, error) {
	args := m.Called(ctx, messageId, userId, readAt)
	return args.Get(0).(MessageRead), args.Error(1)
}
func (m *MockChatRepository) ToggleReaction(ctx context.Context, messageId, userId, reaction string) (bool, error) {
	args := m.Called(ctx, messageId, userId, reaction)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CountUnread(ctx context.Context, userId string) (int, error) {
	args := m.Called(ctx, userId)
	return args.Int(0), args.Error(1)
}
