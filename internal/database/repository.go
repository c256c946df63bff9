package database

import (
	"context"
	"time"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int64) (User, error)
	GetAccountByUsername(ctx context.Context, username string) (User, error)
	TouchAccount(ctx context.Context, id int64) error
	FindOrCreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomById(ctx context.Context, id int64) (Room, error)
	GetRoomByName(ctx context.Context, name string) (Room, error)
	ListPublicRooms(ctx context.Context) ([]Room, error)
	SoftDeleteRoom(ctx context.Context, id int64) error
	AddMember(ctx context.Context, roomId, userId int64) (bool, error)
	RemoveMember(ctx context.Context, roomId, userId int64) (bool, error)
	IsMember(ctx context.Context, roomId, userId int64) (bool, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int64) (Message, error)
	ListMessages(ctx context.Context, query MessageQuery) ([]Message, error)
	CountMessages(ctx context.Context, roomId int64) (int64, error)
	UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (Message, error)
	MarkMessageDeleted(ctx context.Context, id int64) error
}
