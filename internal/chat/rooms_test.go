package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRoomRegistry_EnsureRoom(t *testing.T) {
	repo := testutil.TestRepository(t)
	rr := NewRoomRegistry(repo, testutil.TestLogger(t), 0)
	ctx := context.Background()

	room, err := rr.EnsureRoom(ctx, "  lobby ", 7)
	require.NoError(t, err)
	assert.Equal(t, "lobby", room.Name)
	assert.Equal(t, int64(7), room.CreatorId)
	assert.Equal(t, []int64{7}, room.Members)
	assert.Equal(t, DefaultRoomCapacity, room.Capacity)

	same, err := rr.EnsureRoom(ctx, "lobby", 8)
	require.NoError(t, err)
	assert.Equal(t, room.Id, same.Id)
	assert.Equal(t, []int64{7}, same.Members)

	_, err = rr.EnsureRoom(ctx, "", 7)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestRoomRegistry_EnsureRoom_Concurrent(t *testing.T) {
	repo := testutil.TestRepository(t)
	rr := NewRoomRegistry(repo, testutil.TestLogger(t), 0)

	var wg sync.WaitGroup
	ids := make(chan int64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(userId int64) {
			defer wg.Done()
			room, err := rr.EnsureRoom(context.Background(), "party", userId)
			if assert.NoError(t, err) {
				ids <- room.Id
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(ids)

	seen := map[int64]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1, "exactly one room must exist")
}

func TestRoomRegistry_AddMember(t *testing.T) {
	repo := testutil.TestRepository(t)
	rr := NewRoomRegistry(repo, testutil.TestLogger(t), 2)
	ctx := context.Background()

	room, err := rr.EnsureRoom(ctx, "pair", 1)
	require.NoError(t, err)

	assert.NoError(t, rr.AddMember(ctx, room.Id, 2))
	assert.NoError(t, rr.AddMember(ctx, room.Id, 2), "adding twice is a no-op")
	assert.ErrorIs(t, rr.AddMember(ctx, room.Id, 3), ErrCapacityExceeded)
	assert.ErrorIs(t, rr.AddMember(ctx, 999, 3), ErrRoomNotFound)

	got, err := rr.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)
	assert.ElementsMatch(t, []int64{1, 2}, got.Members)

	assert.NoError(t, rr.RemoveMember(ctx, room.Id, 2))
	assert.NoError(t, rr.RemoveMember(ctx, room.Id, 2), "removing an absent member is not an error")
	assert.NoError(t, rr.AddMember(ctx, room.Id, 3), "freed slot is reusable")
}

func TestRoomRegistry_SoftDelete(t *testing.T) {
	repo := testutil.TestRepository(t)
	rr := NewRoomRegistry(repo, testutil.TestLogger(t), 0)
	ctx := context.Background()

	room, err := rr.EnsureRoom(ctx, "temp", 1)
	require.NoError(t, err)

	_, err = rr.SoftDelete(ctx, room.Id, 2)
	assert.ErrorIs(t, err, ErrUnauthorized)

	still, err := rr.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.True(t, still.Active)

	deleted, err := rr.SoftDelete(ctx, room.Id, 1)
	require.NoError(t, err)
	assert.False(t, deleted.Active)

	_, err = rr.GetRoom(ctx, room.Id)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = rr.GetRoomByName(ctx, "temp")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, rr.AddMember(ctx, room.Id, 3), ErrRoomNotFound)

	reborn, err := rr.EnsureRoom(ctx, "temp", 3)
	require.NoError(t, err)
	assert.NotEqual(t, room.Id, reborn.Id)
}

func TestRoomRegistry_CreateRoom(t *testing.T) {
	repo := testutil.TestRepository(t)
	rr := NewRoomRegistry(repo, testutil.TestLogger(t), 0)
	ctx := context.Background()

	tcases := []struct {
		name   string
		params CreateRoomParams
		err    error
	}{
		{
			name:   "public room",
			params: CreateRoomParams{Name: "public", Description: "open to all", CreatorId: 1},
		},
		{
			name:   "private room",
			params: CreateRoomParams{Name: "secret", CreatorId: 1, IsPrivate: true, Capacity: 5},
		},
		{
			name:   "duplicate name",
			params: CreateRoomParams{Name: "public", CreatorId: 2},
			err:    ErrValidationFailed,
		},
		{
			name:   "description too long",
			params: CreateRoomParams{Name: "wordy", CreatorId: 1, Description: string(make([]byte, MaxDescriptionLength+1))},
			err:    ErrValidationFailed,
		},
		{
			name:   "negative capacity",
			params: CreateRoomParams{Name: "neg", CreatorId: 1, Capacity: -1},
			err:    ErrValidationFailed,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			room, err := rr.CreateRoom(ctx, tc.params)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.params.Name, room.Name)
			assert.Equal(t, []int64{tc.params.CreatorId}, room.Members)
			assert.Equal(t, tc.params.IsPrivate, room.IsPrivate)
		})
	}

	rooms, err := rr.ListPublicRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "public", rooms[0].Name)
}

func TestRoomRegistry_StorageError(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)

	rr := NewRoomRegistry(mockRepo, testutil.TestLogger(t), 0)
	dbErr := errors.New("connection refused")

	mockRepo.On("FindOrCreateRoom", mock.Anything).Return(database.Room{}, false, dbErr).Once()
	mockRepo.On("AddMember", int64(1), int64(2)).Return(false, dbErr).Once()

	_, err := rr.EnsureRoom(context.Background(), "lobby", 2)
	assert.ErrorIs(t, err, dbErr)

	err = rr.AddMember(context.Background(), 1, 2)
	assert.ErrorIs(t, err, dbErr)
}
