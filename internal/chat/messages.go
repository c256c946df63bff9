package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessageStore persists messages and serves room history.
type MessageStore struct {
	db  database.ChatRepository
	log *log.Logger
}

func NewMessageStore(db database.ChatRepository, logger *log.Logger) *MessageStore {
	return &MessageStore{
		db:  db,
		log: logger,
	}
}

type AppendParams struct {
	RoomId   int64
	UserId   int64
	Username string
	Content  string
	Type     string
	MediaUrl string
}

type ListParams struct {
	Limit   int
	Offset  int
	SinceId int64
}

// Append validates and persists a message authored by a room member.
func (s *MessageStore) Append(ctx context.Context, params AppendParams) (*types.Message, error) {
	msgType := params.Type
	if msgType == "" {
		msgType = types.MessageTypeText
	}

	content, err := ValidateContent(msgType, params.Content, params.MediaUrl)
	if err != nil {
		return nil, err
	}

	room, err := s.db.GetRoomById(ctx, params.RoomId)
	if err != nil {
		return nil, mapRoomErr(err)
	}
	if !room.Active {
		return nil, ErrRoomNotFound
	}

	if !toRoom(room).HasMember(params.UserId) {
		return nil, fmt.Errorf("%w: user %d in room %d", ErrNotAMember, params.UserId, params.RoomId)
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:   params.RoomId,
		UserId:   params.UserId,
		Username: params.Username,
		Content:  content,
		Type:     msgType,
		MediaUrl: params.MediaUrl,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	return toMessage(msg), nil
}

// ListByRoom returns a page of non-deleted messages, oldest first.
func (s *MessageStore) ListByRoom(ctx context.Context, roomId int64, params ListParams) ([]types.Message, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	offset := max(params.Offset, 0)

	dbMsgs, err := s.db.ListMessages(ctx, database.MessageQuery{
		RoomId:  roomId,
		Limit:   limit,
		Offset:  offset,
		SinceId: params.SinceId,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		msgs = append(msgs, *toMessage(m))
	}

	return msgs, nil
}

func (s *MessageStore) getLive(ctx context.Context, id int64) (database.Message, error) {
	msg, err := s.db.GetMessage(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return msg, ErrNotFound
	}
	if err != nil {
		return msg, fmt.Errorf("get message: %w", err)
	}
	if msg.IsDeleted {
		return msg, ErrNotFound
	}
	return msg, nil
}

// Get returns a non-deleted message by id.
func (s *MessageStore) Get(ctx context.Context, id int64) (*types.Message, error) {
	msg, err := s.getLive(ctx, id)
	if err != nil {
		return nil, err
	}
	return toMessage(msg), nil
}

func (s *MessageStore) Count(ctx context.Context, roomId int64) (int64, error) {
	count, err := s.db.CountMessages(ctx, roomId)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Edit replaces the content of a message. Only the author may edit, and the
// new content is checked only once the caller is known to be the author.
func (s *MessageStore) Edit(ctx context.Context, id int64, content string, requesterId int64) (*types.Message, error) {
	msg, err := s.getLive(ctx, id)
	if err != nil {
		return nil, err
	}

	if msg.UserId != requesterId {
		return nil, fmt.Errorf("%w: user %d cannot edit message %d", ErrUnauthorized, requesterId, id)
	}

	content, err = ValidateContent(types.MessageTypeText, content, "")
	if err != nil {
		return nil, err
	}

	updated, err := s.db.UpdateMessageContent(ctx, id, content, time.Now().UTC())
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	return toMessage(updated), nil
}

// SoftDelete hides a message from history and returns it. Only the author
// may delete and deleting twice is not an error.
func (s *MessageStore) SoftDelete(ctx context.Context, id int64, requesterId int64) (*types.Message, error) {
	msg, err := s.db.GetMessage(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	if msg.UserId != requesterId {
		return nil, fmt.Errorf("%w: user %d cannot delete message %d", ErrUnauthorized, requesterId, id)
	}

	if !msg.IsDeleted {
		if err := s.db.MarkMessageDeleted(ctx, id); err != nil {
			return nil, fmt.Errorf("delete message: %w", err)
		}
		msg.IsDeleted = true
	}

	return toMessage(msg), nil
}
