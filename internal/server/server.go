package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

type RoomRegistry interface {
	EnsureRoom(ctx context.Context, name string, userId int64) (*types.Room, error)
	GetRoom(ctx context.Context, roomId int64) (*types.Room, error)
	GetRoomByName(ctx context.Context, name string) (*types.Room, error)
	SoftDelete(ctx context.Context, roomId, userId int64) (*types.Room, error)
	AddMember(ctx context.Context, roomId, userId int64) error
	RemoveMember(ctx context.Context, roomId, userId int64) error
}

type MessageStore interface {
	Append(ctx context.Context, params chat.AppendParams) (*types.Message, error)
}

type SendParams struct {
	RoomName string
	UserId   int64
	Username string
	Content  string
	Type     string
	MediaUrl string
}

// BroadcastResult describes a completed send. MessageId is nil and Degraded
// is true when the message was broadcast without being persisted.
type BroadcastResult struct {
	MessageId  *int64
	Degraded   bool
	Recipients int
	Message    *types.MessageEvent
}

// ChatServer fans messages out to the connections bound to a room. All
// persistence and broadcast work for one room runs under that room's lock,
// so every connection observes a room's messages in store order.
type ChatServer struct {
	log      *log.Logger
	rooms    RoomRegistry
	messages MessageStore
	conns    *ConnectionRegistry
	stats    stats.StatsProvider
	locksMu  sync.Mutex
	locks    map[string]*sync.Mutex
}

func NewChatServer(logger *log.Logger, rooms RoomRegistry, messages MessageStore, sp stats.StatsProvider) (*ChatServer, error) {
	if rooms == nil || messages == nil {
		return nil, fmt.Errorf("room registry and message store are required")
	}

	cs := &ChatServer{
		log:      logger,
		rooms:    rooms,
		messages: messages,
		conns:    NewConnectionRegistry(),
		stats:    sp,
		locks:    make(map[string]*sync.Mutex),
	}

	cs.stats.RegisterGauge(stats.NumActiveClients, func() int64 { return int64(cs.conns.NumClients()) })
	cs.stats.RegisterGauge(stats.NumActiveUsers, func() int64 { return int64(cs.conns.NumUsers()) })
	cs.stats.RegisterGauge(stats.NumActiveRooms, func() int64 { return int64(cs.conns.NumRooms()) })
	cs.stats.RegisterMetric(stats.NumDegradedBroadcasts)
	cs.stats.RegisterMetric(stats.NumDroppedSends)

	return cs, nil
}

// Connections exposes the registry for read-only inspection.
func (cs *ChatServer) Connections() *ConnectionRegistry {
	return cs.conns
}

func (cs *ChatServer) roomLock(name string) *sync.Mutex {
	cs.locksMu.Lock()
	defer cs.locksMu.Unlock()

	l, ok := cs.locks[name]
	if !ok {
		l = &sync.Mutex{}
		cs.locks[name] = l
	}
	return l
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.conns.Register(c, c.user.Id)
	cs.log.Printf("registered connection %s for user %q", c.id, c.user.Username)
}

// broadcast queues msg on every connection joined to room except skip and
// returns the number of connections that accepted it.
func (cs *ChatServer) broadcast(room string, msg *ServerMessage, skip *Client) int {
	delivered := 0
	for _, c := range cs.conns.RoomClients(room) {
		if c == skip {
			continue
		}
		if c.queueMessage(msg) {
			delivered++
		}
	}
	return delivered
}

// JoinRoom ensures the room exists, adds the user as a member and binds the
// connection. On any failure the connection is left unjoined.
func (cs *ChatServer) JoinRoom(ctx context.Context, c *Client, roomName string) (*types.Room, error) {
	name, err := chat.NormalizeRoomName(roomName)
	if err != nil {
		return nil, err
	}

	lock := cs.roomLock(name)
	lock.Lock()
	defer lock.Unlock()

	joined, err := cs.conns.BeginJoin(c, name)
	if err != nil {
		return nil, err
	}
	if joined {
		return cs.rooms.GetRoomByName(ctx, name)
	}

	room, err := cs.rooms.EnsureRoom(ctx, name, c.user.Id)
	if err == nil && room.IsPrivate && !room.HasMember(c.user.Id) {
		err = fmt.Errorf("%w: room %q is private", chat.ErrUnauthorized, name)
	}
	if err == nil {
		err = cs.rooms.AddMember(ctx, room.Id, c.user.Id)
	}
	if err != nil {
		cs.conns.AbortJoin(c, name)
		return nil, err
	}

	if err := cs.conns.CompleteJoin(c, name); err != nil {
		return nil, fmt.Errorf("connection closed during join: %w", err)
	}

	if !room.HasMember(c.user.Id) {
		room.Members = append(room.Members, c.user.Id)
		room.MemberCount++
	}

	cs.log.Printf("connection %s of user %q joined room %q", c.id, c.user.Username, name)
	cs.broadcast(name, presenceEvent(name, c.user.Id, c.user.Username, true), c)

	return room, nil
}

// LeaveRoom detaches c from the room. With unsubscribe the user's durable
// membership is removed and all of the user's connections are detached.
// c may be nil when the request did not come from a live connection.
func (cs *ChatServer) LeaveRoom(ctx context.Context, c *Client, roomName string, userId int64, unsubscribe bool) error {
	name := strings.TrimSpace(roomName)

	lock := cs.roomLock(name)
	lock.Lock()
	defer lock.Unlock()

	var (
		detached []*Client
		username string
	)

	if c != nil {
		username = c.user.Username
		if cs.conns.Unbind(c, name) {
			detached = append(detached, c)
		}
	}

	if unsubscribe {
		room, err := cs.rooms.GetRoomByName(ctx, name)
		if err != nil && !errors.Is(err, chat.ErrRoomNotFound) {
			return err
		}
		if room != nil {
			if err := cs.rooms.RemoveMember(ctx, room.Id, userId); err != nil {
				return err
			}
		}

		for _, uc := range cs.conns.UserClients(userId) {
			if username == "" {
				username = uc.user.Username
			}
			if cs.conns.Unbind(uc, name) {
				detached = append(detached, uc)
			}
		}
	}

	if len(detached) == 0 {
		return nil
	}

	left := presenceEvent(name, userId, username, false)
	for _, dc := range detached {
		if dc != c {
			dc.queueMessage(left)
		}
	}

	if !cs.conns.UserInRoom(userId, name) {
		cs.broadcast(name, left, nil)
	}

	cs.log.Printf("user %d left room %q (unsubscribe=%t, connections=%d)", userId, name, unsubscribe, len(detached))
	return nil
}

// SendToRoom persists a message and broadcasts it to every connection
// joined to the room, the sender's included. If persisting fails the
// message is still broadcast with a nil id.
func (cs *ChatServer) SendToRoom(ctx context.Context, params SendParams) (*BroadcastResult, error) {
	name := strings.TrimSpace(params.RoomName)

	msgType := params.Type
	if msgType == "" {
		msgType = types.MessageTypeText
	}

	content, err := chat.ValidateContent(msgType, params.Content, params.MediaUrl)
	if err != nil {
		return nil, err
	}

	lock := cs.roomLock(name)
	lock.Lock()
	defer lock.Unlock()

	room, err := cs.rooms.GetRoomByName(ctx, name)
	if errors.Is(err, chat.ErrRoomNotFound) {
		cs.log.Printf("dropping message from user %d: room %q not found", params.UserId, name)
		cs.stats.Incr(stats.NumDroppedSends)
		return nil, err
	}

	evt := &types.MessageEvent{
		Room:       name,
		AuthorId:   params.UserId,
		AuthorName: params.Username,
		Content:    content,
		Type:       msgType,
		Timestamp:  Now(),
	}
	if msgType == types.MessageTypeGif {
		evt.GifUrl = params.MediaUrl
	}

	if err == nil {
		evt.RoomId = room.Id

		var msg *types.Message
		msg, err = cs.messages.Append(ctx, chat.AppendParams{
			RoomId:   room.Id,
			UserId:   params.UserId,
			Username: params.Username,
			Content:  content,
			Type:     msgType,
			MediaUrl: params.MediaUrl,
		})
		if err == nil {
			id := msg.Id
			evt.MessageId = &id
			evt.Content = msg.Content
			evt.Timestamp = msg.Timestamp.UTC().Round(time.Millisecond)
		}
	}

	degraded := err != nil
	if degraded {
		cs.log.Printf("broadcasting unsaved message from user %d to room %q: %v", params.UserId, name, err)
		cs.stats.Incr(stats.NumDegradedBroadcasts)
	}

	recipients := cs.broadcast(name, messageEvent(evt), nil)

	return &BroadcastResult{
		MessageId:  evt.MessageId,
		Degraded:   degraded,
		Recipients: recipients,
		Message:    evt,
	}, nil
}

// OnDisconnect releases every binding of c. Calling it more than once is
// harmless.
func (cs *ChatServer) OnDisconnect(c *Client) {
	rooms, offline, ok := cs.conns.UnbindAll(c)
	if !ok {
		return
	}

	for _, room := range rooms {
		if !cs.conns.UserInRoom(c.user.Id, room) {
			cs.broadcast(room, presenceEvent(room, c.user.Id, c.user.Username, false), nil)
		}
	}

	cs.log.Printf("connection %s of user %q closed", c.id, c.user.Username)
	if offline {
		cs.log.Printf("user %q is offline", c.user.Username)
	}
}

// DeleteRoom soft-deletes a room on behalf of userId, then tells every
// connection in it and detaches them. Both steps run under the room's lock so
// a concurrent join cannot bind to a new room of the same name in between.
func (cs *ChatServer) DeleteRoom(ctx context.Context, roomId, userId int64) (*types.Room, error) {
	room, err := cs.rooms.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}

	lock := cs.roomLock(room.Name)
	lock.Lock()
	defer lock.Unlock()

	room, err = cs.rooms.SoftDelete(ctx, roomId, userId)
	if err != nil {
		return nil, err
	}

	msg := roomDeletedEvent(room.Name, room.Id)
	for _, c := range cs.conns.DropRoom(room.Name) {
		c.queueMessage(msg)
	}

	cs.log.Printf("room %q (id=%d) deleted", room.Name, room.Id)
	return room, nil
}

// Shutdown stops every connection and waits for them to unregister or for
// ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	for _, c := range cs.conns.Clients() {
		c.stopClient()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for cs.conns.NumClients() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("chat server shutdown: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	return nil
}
