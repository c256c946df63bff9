package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) Append(ctx context.Context, params chat.AppendParams) (*types.Message, error) {
	args := m.Called(params)
	msg, _ := args.Get(0).(*types.Message)
	return msg, args.Error(1)
}

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterGauge", mock.Anything, mock.Anything).Times(3)
	su.On("RegisterMetric", mock.Anything).Times(2)
	return su
}

type testEnv struct {
	cs   *ChatServer
	repo *database.GormChatRepository
	su   *stats.MockStatsUpdater
}

func newTestChatServer(t *testing.T, capacity int) *testEnv {
	t.Helper()

	repo := testutil.TestRepository(t)
	logger := testutil.TestLogger(t)
	su := newMockStats()

	cs, err := NewChatServer(logger, chat.NewRoomRegistry(repo, logger, capacity), chat.NewMessageStore(repo, logger), su)
	require.NoError(t, err)

	return &testEnv{cs: cs, repo: repo, su: su}
}

func (e *testEnv) user(t *testing.T, username string) types.User {
	u := testutil.TestUser(t, e.repo, username)
	return types.User{Id: u.Id, Username: u.Username}
}

func newTestClient(t *testing.T, cs *ChatServer, id string, user types.User) *Client {
	c := &Client{
		id:         id,
		chatServer: cs,
		log:        testutil.TestLogger(t),
		user:       user,
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
	cs.RegisterClient(c)
	return c
}

// drain returns every message currently queued for c.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventsOf(msgs []*ServerMessage, event string) []*ServerMessage {
	var out []*ServerMessage
	for _, m := range msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func TestNewChatServer(t *testing.T) {
	logger := testutil.TestLogger(t)
	su := newMockStats()

	_, err := NewChatServer(logger, nil, nil, su)
	assert.Error(t, err)

	repo := testutil.TestRepository(t)
	cs, err := NewChatServer(logger, chat.NewRoomRegistry(repo, logger, 0), chat.NewMessageStore(repo, logger), su)
	require.NoError(t, err)
	assert.NotNil(t, cs.Connections())
	su.AssertExpectations(t)
}

func TestChatServer_JoinRoom(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	alice := newTestClient(t, env.cs, "alice-1", env.user(t, "alice"))
	bob := newTestClient(t, env.cs, "bob-1", env.user(t, "bob"))

	room, err := env.cs.JoinRoom(ctx, alice, "  lobby ")
	require.NoError(t, err)
	assert.Equal(t, "lobby", room.Name)
	assert.Equal(t, alice.user.Id, room.CreatorId)
	assert.Equal(t, []int64{alice.user.Id}, room.Members)
	assert.True(t, env.cs.Connections().IsJoined(alice, "lobby"))
	assert.Empty(t, drain(alice), "joining an empty room notifies nobody")

	room, err = env.cs.JoinRoom(ctx, bob, "lobby")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice.user.Id, bob.user.Id}, room.Members)
	assert.Equal(t, 2, room.MemberCount)

	joined := eventsOf(drain(alice), EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, bob.user.Id, joined[0].Notification.Presence.UserId)
	assert.Equal(t, "bob", joined[0].Notification.Presence.Username)
	assert.Empty(t, drain(bob), "the joining connection is not notified of itself")

	again, err := env.cs.JoinRoom(ctx, bob, "lobby")
	require.NoError(t, err)
	assert.Equal(t, room.Id, again.Id)
	assert.Empty(t, drain(alice), "re-joining does not announce again")
}

func TestChatServer_JoinRoom_InvalidName(t *testing.T) {
	env := newTestChatServer(t, 0)
	c := newTestClient(t, env.cs, "c1", env.user(t, "alice"))

	_, err := env.cs.JoinRoom(context.Background(), c, "   ")
	assert.ErrorIs(t, err, chat.ErrValidationFailed)
	assert.Empty(t, env.cs.Connections().Rooms(c))
}

func TestChatServer_JoinRoom_CapacityExceeded(t *testing.T) {
	env := newTestChatServer(t, 2)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		c := newTestClient(t, env.cs, name, env.user(t, name))
		_, err := env.cs.JoinRoom(ctx, c, "small")
		require.NoError(t, err)
	}

	carol := newTestClient(t, env.cs, "carol", env.user(t, "carol"))
	_, err := env.cs.JoinRoom(ctx, carol, "small")
	assert.ErrorIs(t, err, chat.ErrCapacityExceeded)
	assert.False(t, env.cs.Connections().IsJoined(carol, "small"))

	// the join state was reverted so a retry is not reported as in progress
	_, err = env.cs.JoinRoom(ctx, carol, "small")
	assert.ErrorIs(t, err, chat.ErrCapacityExceeded)
}

func TestChatServer_JoinRoom_Disconnected(t *testing.T) {
	env := newTestChatServer(t, 0)
	c := newTestClient(t, env.cs, "c1", env.user(t, "alice"))
	env.cs.OnDisconnect(c)

	_, err := env.cs.JoinRoom(context.Background(), c, "lobby")
	assert.ErrorIs(t, err, errNotRegistered)
}

func TestChatServer_SendToRoom(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	aliceUser := env.user(t, "alice")
	alicePhone := newTestClient(t, env.cs, "alice-phone", aliceUser)
	aliceLaptop := newTestClient(t, env.cs, "alice-laptop", aliceUser)
	bob := newTestClient(t, env.cs, "bob", env.user(t, "bob"))

	for _, c := range []*Client{alicePhone, aliceLaptop, bob} {
		_, err := env.cs.JoinRoom(ctx, c, "lobby")
		require.NoError(t, err)
	}
	for _, c := range []*Client{alicePhone, aliceLaptop, bob} {
		drain(c)
	}

	res, err := env.cs.SendToRoom(ctx, SendParams{
		RoomName: "lobby",
		UserId:   aliceUser.Id,
		Username: aliceUser.Username,
		Content:  "  hello  ",
	})
	require.NoError(t, err)
	require.NotNil(t, res.MessageId)
	assert.False(t, res.Degraded)
	assert.Equal(t, 3, res.Recipients, "every connection including the sender's receives the message")
	assert.Equal(t, "hello", res.Message.Content)

	for _, c := range []*Client{alicePhone, aliceLaptop, bob} {
		msgs := eventsOf(drain(c), EventReceiveMessage)
		require.Len(t, msgs, 1, c.id)
		assert.Equal(t, *res.MessageId, *msgs[0].Message.MessageId)
		assert.Equal(t, "hello", msgs[0].Message.Content)
		assert.Equal(t, aliceUser.Id, msgs[0].Message.AuthorId)
	}

	stored, err := env.repo.GetMessage(ctx, *res.MessageId)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
}

func TestChatServer_SendToRoom_Gif(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	u := env.user(t, "alice")
	c := newTestClient(t, env.cs, "c1", u)
	_, err := env.cs.JoinRoom(ctx, c, "lobby")
	require.NoError(t, err)

	res, err := env.cs.SendToRoom(ctx, SendParams{
		RoomName: "lobby",
		UserId:   u.Id,
		Username: u.Username,
		Type:     types.MessageTypeGif,
		MediaUrl: "https://media.example.com/cat.gif",
	})
	require.NoError(t, err)
	assert.Equal(t, "GIF message", res.Message.Content)

	gifs := eventsOf(drain(c), EventReceiveGif)
	require.Len(t, gifs, 1)
	assert.Equal(t, "https://media.example.com/cat.gif", gifs[0].Message.GifUrl)
}

func TestChatServer_SendToRoom_Rejected(t *testing.T) {
	tcases := []struct {
		name   string
		params SendParams
		err    error
	}{
		{
			name:   "empty content",
			params: SendParams{RoomName: "lobby", Content: "   "},
			err:    chat.ErrValidationFailed,
		},
		{
			name:   "gif without url",
			params: SendParams{RoomName: "lobby", Type: types.MessageTypeGif},
			err:    chat.ErrValidationFailed,
		},
		{
			name:   "unknown room",
			params: SendParams{RoomName: "nowhere", Content: "hi"},
			err:    chat.ErrRoomNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestChatServer(t, 0)
			ctx := context.Background()

			u := env.user(t, "alice")
			c := newTestClient(t, env.cs, "c1", u)
			_, err := env.cs.JoinRoom(ctx, c, "lobby")
			require.NoError(t, err)

			if errors.Is(tc.err, chat.ErrRoomNotFound) {
				env.su.On("Incr", stats.NumDroppedSends).Once()
			}

			tc.params.UserId = u.Id
			tc.params.Username = u.Username
			res, err := env.cs.SendToRoom(ctx, tc.params)
			assert.ErrorIs(t, err, tc.err)
			assert.Nil(t, res)
			assert.Empty(t, drain(c), "nothing is broadcast")

			count, err := env.repo.CountMessages(ctx, 1)
			require.NoError(t, err)
			assert.Zero(t, count)
			env.su.AssertExpectations(t)
		})
	}
}

func TestChatServer_SendToRoom_Degraded(t *testing.T) {
	repo := testutil.TestRepository(t)
	logger := testutil.TestLogger(t)
	su := newMockStats()
	su.On("Incr", stats.NumDegradedBroadcasts).Once()

	store := &mockMessageStore{}
	store.On("Append", mock.Anything).Return(nil, fmt.Errorf("database is locked")).Once()

	cs, err := NewChatServer(logger, chat.NewRoomRegistry(repo, logger, 0), store, su)
	require.NoError(t, err)

	u := testutil.TestUser(t, repo, "alice")
	user := types.User{Id: u.Id, Username: u.Username}
	c := newTestClient(t, cs, "c1", user)

	ctx := context.Background()
	_, err = cs.JoinRoom(ctx, c, "lobby")
	require.NoError(t, err)

	res, err := cs.SendToRoom(ctx, SendParams{RoomName: "lobby", UserId: user.Id, Username: user.Username, Content: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Nil(t, res.MessageId)
	assert.Equal(t, 1, res.Recipients)

	msgs := eventsOf(drain(c), EventReceiveMessage)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Message.MessageId)
	assert.Equal(t, "hi", msgs[0].Message.Content)

	store.AssertExpectations(t)
	su.AssertExpectations(t)
}

func TestChatServer_SendToRoom_Ordering(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	const senders, perSender = 3, 20

	var clients []*Client
	for i := range senders {
		u := env.user(t, fmt.Sprintf("user%d", i))
		c := newTestClient(t, env.cs, u.Username, u)
		_, err := env.cs.JoinRoom(ctx, c, "lobby")
		require.NoError(t, err)
		clients = append(clients, c)
	}
	for _, c := range clients {
		drain(c)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := range perSender {
				_, err := env.cs.SendToRoom(ctx, SendParams{
					RoomName: "lobby",
					UserId:   c.user.Id,
					Username: c.user.Username,
					Content:  fmt.Sprintf("%s #%d", c.user.Username, i),
				})
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	var first []int64
	for _, c := range clients {
		msgs := eventsOf(drain(c), EventReceiveMessage)
		require.Len(t, msgs, senders*perSender)

		ids := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			require.NotNil(t, m.Message.MessageId)
			ids = append(ids, *m.Message.MessageId)
		}
		assert.IsIncreasing(t, ids, "connection %s saw messages out of order", c.id)

		if first == nil {
			first = ids
		}
		assert.Equal(t, first, ids, "every connection sees the same order")
	}
}

func TestChatServer_LeaveRoom(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	aliceUser := env.user(t, "alice")
	phone := newTestClient(t, env.cs, "phone", aliceUser)
	laptop := newTestClient(t, env.cs, "laptop", aliceUser)
	bob := newTestClient(t, env.cs, "bob", env.user(t, "bob"))

	var room *types.Room
	for _, c := range []*Client{phone, laptop, bob} {
		var err error
		room, err = env.cs.JoinRoom(ctx, c, "lobby")
		require.NoError(t, err)
	}
	for _, c := range []*Client{phone, laptop, bob} {
		drain(c)
	}

	t.Run("one device leaves", func(t *testing.T) {
		require.NoError(t, env.cs.LeaveRoom(ctx, phone, "lobby", aliceUser.Id, false))
		assert.False(t, env.cs.Connections().IsJoined(phone, "lobby"))
		assert.True(t, env.cs.Connections().IsJoined(laptop, "lobby"))
		assert.Empty(t, eventsOf(drain(bob), EventUserLeft), "alice is still present on another device")

		isMember, err := env.repo.IsMember(ctx, room.Id, aliceUser.Id)
		require.NoError(t, err)
		assert.True(t, isMember, "leaving without unsubscribe keeps membership")
	})

	t.Run("leaving an unjoined room is a no-op", func(t *testing.T) {
		require.NoError(t, env.cs.LeaveRoom(ctx, phone, "lobby", aliceUser.Id, false))
		assert.Empty(t, drain(bob))
	})

	t.Run("unsubscribe detaches every device", func(t *testing.T) {
		require.NoError(t, env.cs.LeaveRoom(ctx, nil, "lobby", aliceUser.Id, true))
		assert.False(t, env.cs.Connections().UserInRoom(aliceUser.Id, "lobby"))

		left := eventsOf(drain(bob), EventUserLeft)
		require.Len(t, left, 1)
		assert.Equal(t, aliceUser.Id, left[0].Notification.Presence.UserId)
		assert.Len(t, eventsOf(drain(laptop), EventUserLeft), 1, "detached devices are told they left")

		isMember, err := env.repo.IsMember(ctx, room.Id, aliceUser.Id)
		require.NoError(t, err)
		assert.False(t, isMember)
	})
}

func TestChatServer_OnDisconnect(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	aliceUser := env.user(t, "alice")
	alice := newTestClient(t, env.cs, "alice", aliceUser)
	bobUser := env.user(t, "bob")
	bob := newTestClient(t, env.cs, "bob", bobUser)

	for _, room := range []string{"lobby", "games"} {
		for _, c := range []*Client{alice, bob} {
			_, err := env.cs.JoinRoom(ctx, c, room)
			require.NoError(t, err)
		}
	}
	drain(alice)

	env.cs.OnDisconnect(bob)
	env.cs.OnDisconnect(bob)

	left := eventsOf(drain(alice), EventUserLeft)
	assert.Len(t, left, 2, "one departure per room, even when disconnect repeats")
	assert.Equal(t, 1, env.cs.Connections().NumClients())
	assert.Equal(t, 1, env.cs.Connections().NumUsers())

	_, err := env.cs.SendToRoom(ctx, SendParams{RoomName: "lobby", UserId: aliceUser.Id, Username: "alice", Content: "anyone?"})
	require.NoError(t, err)
	assert.Empty(t, drain(bob), "disconnected connections receive nothing")

	isMember, err := env.repo.IsMember(ctx, 1, bobUser.Id)
	require.NoError(t, err)
	assert.True(t, isMember, "disconnecting keeps durable membership")
}

func TestChatServer_DeleteRoom(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	aliceUser := env.user(t, "alice")
	alice := newTestClient(t, env.cs, "alice", aliceUser)
	bobUser := env.user(t, "bob")
	bob := newTestClient(t, env.cs, "bob", bobUser)

	room, err := env.cs.JoinRoom(ctx, alice, "lobby")
	require.NoError(t, err)
	_, err = env.cs.JoinRoom(ctx, bob, "lobby")
	require.NoError(t, err)
	drain(alice)

	_, err = env.cs.DeleteRoom(ctx, room.Id, bobUser.Id)
	assert.ErrorIs(t, err, chat.ErrUnauthorized)
	assert.True(t, env.cs.Connections().IsJoined(alice, "lobby"), "a refused delete detaches nobody")

	deleted, err := env.cs.DeleteRoom(ctx, room.Id, aliceUser.Id)
	require.NoError(t, err)
	assert.False(t, deleted.Active)

	for _, c := range []*Client{alice, bob} {
		events := eventsOf(drain(c), EventRoomDeleted)
		require.Len(t, events, 1, c.id)
		assert.Equal(t, room.Id, events[0].Notification.RoomDeleted.RoomId)
		assert.False(t, env.cs.Connections().IsJoined(c, "lobby"))
	}

	_, err = env.cs.DeleteRoom(ctx, room.Id, aliceUser.Id)
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)

	reborn, err := env.cs.JoinRoom(ctx, bob, "lobby")
	require.NoError(t, err)
	assert.NotEqual(t, room.Id, reborn.Id)
	assert.True(t, env.cs.Connections().IsJoined(bob, "lobby"))
}

func TestChatServer_DeleteRoom_HoldsRoomLock(t *testing.T) {
	env := newTestChatServer(t, 0)
	ctx := context.Background()

	aliceUser := env.user(t, "alice")
	alice := newTestClient(t, env.cs, "alice", aliceUser)
	room, err := env.cs.JoinRoom(ctx, alice, "lobby")
	require.NoError(t, err)

	lock := env.cs.roomLock("lobby")
	lock.Lock()

	done := make(chan error, 1)
	go func() {
		_, err := env.cs.DeleteRoom(ctx, room.Id, aliceUser.Id)
		done <- err
	}()

	select {
	case err := <-done:
		lock.Unlock()
		t.Fatalf("delete finished while the room lock was held: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	current, err := env.cs.rooms.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.True(t, current.Active, "room stays active until the lock is released")
	assert.True(t, env.cs.Connections().IsJoined(alice, "lobby"))

	lock.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish")
	}

	_, err = env.cs.rooms.GetRoom(ctx, room.Id)
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
	assert.False(t, env.cs.Connections().IsJoined(alice, "lobby"))
}

func TestChatServer_Shutdown(t *testing.T) {
	t.Run("no clients", func(t *testing.T) {
		env := newTestChatServer(t, 0)
		assert.NoError(t, env.cs.Shutdown(context.Background()))
	})
	t.Run("clients unregister", func(t *testing.T) {
		env := newTestChatServer(t, 0)
		c := newTestClient(t, env.cs, "c1", env.user(t, "alice"))

		go func() {
			<-c.stop
			env.cs.OnDisconnect(c)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, env.cs.Shutdown(ctx))
	})
	t.Run("deadline exceeded", func(t *testing.T) {
		env := newTestChatServer(t, 0)
		c := newTestClient(t, env.cs, "c1", env.user(t, "alice"))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := env.cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		select {
		case <-c.stop:
		default:
			t.Error("expected client to be stopped")
		}
	})
}

func TestClient_dispatch(t *testing.T) {
	env := newTestChatServer(t, 0)
	c := newTestClient(t, env.cs, "c1", env.user(t, "alice"))

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Send: &Send{Room: "lobby", Content: "hi"}})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, 403, msgs[0].Response.ResponseCode, "sending before joining is rejected")

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Join: &Join{Room: "lobby"}})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, 200, msgs[0].Response.ResponseCode)
	assert.Equal(t, 2, msgs[0].Id)

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 3}, Send: &Send{Room: "lobby", Content: "hi"}})
	msgs = drain(c)
	require.Len(t, msgs, 2)
	assert.Equal(t, EventReceiveMessage, msgs[0].Event)
	assert.Equal(t, 202, msgs[1].Response.ResponseCode)

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 4}, Leave: &Leave{Room: "lobby"}})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, 200, msgs[0].Response.ResponseCode)

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 5}})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, 400, msgs[0].Response.ResponseCode)
}
