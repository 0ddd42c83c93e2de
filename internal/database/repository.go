package database

import (
	"context"
	"time"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	ResolveUsers(ctx context.Context, ids []string) ([]User, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error)
	GetRoomWithParticipants(ctx context.Context, roomId string) (*Room, error)
	ListRoomsForUser(ctx context.Context, userId string) ([]RoomSummary, error)
	ListRoomIdsForUser(ctx context.Context, userId string) ([]string, error)
	AddParticipant(ctx context.Context, roomId, userId string, joinedAt time.Time) error
	DeleteParticipant(ctx context.Context, roomId, userId string) error
	TouchRoom(ctx context.Context, roomId string, at time.Time) error
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, messageId string) (Message, error)
	UpdateMessageContent(ctx context.Context, messageId, content string, editedAt time.Time) (Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
	ListMessages(ctx context.Context, query MessageQuery) ([]Message, int, error)
	ListReactions(ctx context.Context, messageIds []string) ([]Reaction, error)
	ListReads(ctx context.Context, messageIds []string) ([]MessageRead, error)
	UpsertRead(ctx context.Context, messageId, userId string, readAt time.Time) (MessageRead, error)
	ToggleReaction(ctx context.Context, messageId, userId, reaction string) (bool, error)
	CountUnread(ctx context.Context, userId string) (int, error)
}
