package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const DefaultRoomCapacity = 100

// RoomRegistry owns room records and durable membership.
type RoomRegistry struct {
	db              database.ChatRepository
	log             *log.Logger
	defaultCapacity int
}

func NewRoomRegistry(db database.ChatRepository, logger *log.Logger, defaultCapacity int) *RoomRegistry {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultRoomCapacity
	}

	return &RoomRegistry{
		db:              db,
		log:             logger,
		defaultCapacity: defaultCapacity,
	}
}

type CreateRoomParams struct {
	Name        string
	Description string
	CreatorId   int64
	IsPrivate   bool
	Capacity    int
}

func mapRoomErr(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, database.ErrCapacityExceeded):
		return ErrCapacityExceeded
	default:
		return err
	}
}

// EnsureRoom returns the active room called name, creating it with userId as
// its only member when it does not exist. Concurrent callers for the same
// name always observe a single room.
func (r *RoomRegistry) EnsureRoom(ctx context.Context, name string, userId int64) (*types.Room, error) {
	name, err := NormalizeRoomName(name)
	if err != nil {
		return nil, err
	}

	room, created, err := r.db.FindOrCreateRoom(ctx, database.CreateRoomParams{
		Name:      name,
		CreatorId: userId,
		Capacity:  r.defaultCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure room %q: %w", name, err)
	}

	if created {
		r.log.Printf("created room %q (id=%d) for user %d", room.Name, room.Id, userId)
	}

	return toRoom(room), nil
}

// CreateRoom creates a room explicitly. The name must not be used by another
// active room.
func (r *RoomRegistry) CreateRoom(ctx context.Context, params CreateRoomParams) (*types.Room, error) {
	name, err := NormalizeRoomName(params.Name)
	if err != nil {
		return nil, err
	}

	description := strings.TrimSpace(params.Description)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidationFailed, MaxDescriptionLength)
	}

	capacity := params.Capacity
	if capacity == 0 {
		capacity = r.defaultCapacity
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrValidationFailed)
	}

	room, err := r.db.CreateRoom(ctx, database.CreateRoomParams{
		Name:        name,
		Description: description,
		CreatorId:   params.CreatorId,
		Capacity:    capacity,
		IsPrivate:   params.IsPrivate,
	})
	if errors.Is(err, database.ErrDuplicateName) {
		return nil, fmt.Errorf("%w: room name %q already exists", ErrValidationFailed, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	r.log.Printf("created room %q (id=%d) for user %d", room.Name, room.Id, params.CreatorId)
	return toRoom(room), nil
}

// GetRoom returns an active room by id.
func (r *RoomRegistry) GetRoom(ctx context.Context, roomId int64) (*types.Room, error) {
	room, err := r.db.GetRoomById(ctx, roomId)
	if err != nil {
		return nil, mapRoomErr(err)
	}
	if !room.Active {
		return nil, ErrRoomNotFound
	}

	return toRoom(room), nil
}

// GetRoomByName returns the active room called name.
func (r *RoomRegistry) GetRoomByName(ctx context.Context, name string) (*types.Room, error) {
	room, err := r.db.GetRoomByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, mapRoomErr(err)
	}

	return toRoom(room), nil
}

func (r *RoomRegistry) ListPublicRooms(ctx context.Context) ([]types.Room, error) {
	dbRooms, err := r.db.ListPublicRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, *toRoom(room))
	}

	return rooms, nil
}

// AddMember adds userId to the room. Adding an existing member is a no-op.
func (r *RoomRegistry) AddMember(ctx context.Context, roomId, userId int64) error {
	added, err := r.db.AddMember(ctx, roomId, userId)
	if err != nil {
		return mapRoomErr(err)
	}

	if added {
		r.log.Printf("user %d joined room %d", userId, roomId)
	}

	return nil
}

// RemoveMember removes userId from the room. Removing a non-member is not an
// error.
func (r *RoomRegistry) RemoveMember(ctx context.Context, roomId, userId int64) error {
	removed, err := r.db.RemoveMember(ctx, roomId, userId)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	if removed {
		r.log.Printf("user %d left room %d", userId, roomId)
	}

	return nil
}

// SoftDelete marks the room inactive. Only the creator may delete a room.
func (r *RoomRegistry) SoftDelete(ctx context.Context, roomId, userId int64) (*types.Room, error) {
	room, err := r.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}

	if room.CreatorId != userId {
		return nil, fmt.Errorf("%w: only the room creator can delete room %d", ErrUnauthorized, roomId)
	}

	if err := r.db.SoftDeleteRoom(ctx, roomId); err != nil {
		return nil, mapRoomErr(err)
	}

	room.Active = false
	r.log.Printf("room %q (id=%d) deleted by user %d", room.Name, room.Id, userId)
	return room, nil
}
