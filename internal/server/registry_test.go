package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_JoinLifecycle(t *testing.T) {
	r := NewConnectionRegistry()
	c := &Client{id: "c1"}

	_, err := r.BeginJoin(c, "lobby")
	assert.ErrorIs(t, err, errNotRegistered, "unregistered connections cannot join")

	r.Register(c, 1)
	r.Register(c, 1)
	assert.Equal(t, 1, r.NumClients())
	assert.Equal(t, 1, r.NumUsers())

	joined, err := r.BeginJoin(c, "lobby")
	require.NoError(t, err)
	assert.False(t, joined)
	assert.False(t, r.IsJoined(c, "lobby"), "joining is not joined")
	assert.Empty(t, r.RoomClients("lobby"))

	_, err = r.BeginJoin(c, "lobby")
	assert.ErrorIs(t, err, errJoinInProgress)

	require.NoError(t, r.CompleteJoin(c, "lobby"))
	assert.True(t, r.IsJoined(c, "lobby"))
	assert.Equal(t, []*Client{c}, r.RoomClients("lobby"))
	assert.Equal(t, []string{"lobby"}, r.Rooms(c))

	joined, err = r.BeginJoin(c, "lobby")
	require.NoError(t, err)
	assert.True(t, joined)

	_, err = r.BeginJoin(c, "games")
	require.NoError(t, err)
	r.AbortJoin(c, "games")
	assert.False(t, r.IsJoined(c, "games"))
	assert.ErrorIs(t, r.CompleteJoin(c, "games"), errNotJoining)
}

func TestConnectionRegistry_CompleteAfterDisconnect(t *testing.T) {
	r := NewConnectionRegistry()
	c := &Client{id: "c1"}
	r.Register(c, 1)

	_, err := r.BeginJoin(c, "lobby")
	require.NoError(t, err)

	_, _, ok := r.UnbindAll(c)
	require.True(t, ok)

	assert.ErrorIs(t, r.CompleteJoin(c, "lobby"), errNotRegistered)
	assert.Empty(t, r.RoomClients("lobby"))
}

func TestConnectionRegistry_UnbindAll(t *testing.T) {
	r := NewConnectionRegistry()
	phone := &Client{id: "phone"}
	laptop := &Client{id: "laptop"}

	r.Bind(phone, 1, "lobby")
	r.Bind(phone, 1, "games")
	r.Bind(laptop, 1, "lobby")

	assert.Equal(t, 2, r.NumClients())
	assert.Equal(t, 1, r.NumUsers())
	assert.Equal(t, 2, r.NumRooms())
	assert.Len(t, r.UserClients(1), 2)

	rooms, offline, ok := r.UnbindAll(phone)
	assert.True(t, ok)
	assert.False(t, offline, "laptop is still connected")
	assert.ElementsMatch(t, []string{"lobby", "games"}, rooms)
	assert.True(t, r.UserInRoom(1, "lobby"))
	assert.False(t, r.UserInRoom(1, "games"))
	assert.Equal(t, 1, r.NumRooms())

	rooms, offline, ok = r.UnbindAll(phone)
	assert.False(t, ok, "second unbind is a no-op")
	assert.False(t, offline)
	assert.Empty(t, rooms)

	_, offline, ok = r.UnbindAll(laptop)
	assert.True(t, ok)
	assert.True(t, offline)
	assert.Equal(t, 0, r.NumClients())
	assert.Equal(t, 0, r.NumUsers())
	assert.Equal(t, 0, r.NumRooms())
}

func TestConnectionRegistry_UnbindAndDropRoom(t *testing.T) {
	r := NewConnectionRegistry()
	a := &Client{id: "a"}
	b := &Client{id: "b"}
	r.Bind(a, 1, "lobby")
	r.Bind(b, 2, "lobby")

	assert.True(t, r.Unbind(a, "lobby"))
	assert.False(t, r.Unbind(a, "lobby"))
	assert.Equal(t, []*Client{b}, r.RoomClients("lobby"))

	r.Bind(a, 1, "lobby")
	dropped := r.DropRoom("lobby")
	assert.ElementsMatch(t, []*Client{a, b}, dropped)
	assert.Empty(t, r.RoomClients("lobby"))
	assert.False(t, r.IsJoined(a, "lobby"))
	assert.Equal(t, 2, r.NumClients(), "dropping a room keeps connections registered")
}
