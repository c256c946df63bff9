package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	requestTimeout = 10 * time.Second
	sendBufferSize = 256
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Printf("client %s: failed to serialize message: %v", c.id, err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("client %s: error parsing message: %v", c.id, err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case msg.Join != nil:
		c.joinRoom(ctx, msg)
	case msg.Leave != nil:
		c.leaveRoom(ctx, msg)
	case msg.Send != nil:
		c.publish(ctx, msg.Id, msg.Send.Room, SendParams{
			Content: msg.Send.Content,
			Type:    types.MessageTypeText,
		})
	case msg.SendGif != nil:
		c.publish(ctx, msg.Id, msg.SendGif.Room, SendParams{
			Content:  msg.SendGif.Content,
			Type:     types.MessageTypeGif,
			MediaUrl: msg.SendGif.GifUrl,
		})
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) joinRoom(ctx context.Context, msg *ClientMessage) {
	room, err := c.chatServer.JoinRoom(ctx, c, msg.Join.Room)
	if err != nil {
		c.log.Printf("client %s: join %q: %v", c.id, msg.Join.Room, err)
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, room))
}

func (c *Client) leaveRoom(ctx context.Context, msg *ClientMessage) {
	err := c.chatServer.LeaveRoom(ctx, c, msg.Leave.Room, c.user.Id, msg.Leave.Unsubscribe)
	if err != nil {
		c.log.Printf("client %s: leave %q: %v", c.id, msg.Leave.Room, err)
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) publish(ctx context.Context, id int, room string, params SendParams) {
	room = strings.TrimSpace(room)
	if !c.chatServer.conns.IsJoined(c, room) {
		c.queueMessage(ErrResponse(id, chat.ErrNotAMember))
		return
	}

	params.RoomName = room
	params.UserId = c.user.Id
	params.Username = c.user.Username

	res, err := c.chatServer.SendToRoom(ctx, params)
	if err != nil {
		c.queueMessage(ErrResponse(id, err))
		return
	}

	c.queueMessage(NoErrAccepted(id, map[string]any{
		"message_id": res.MessageId,
		"degraded":   res.Degraded,
	}))
}

// queueMessage never blocks. A full buffer drops the message for this
// connection only.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("client %s: send buffer full, dropping message", c.id)
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.OnDisconnect(c)
	c.stopClient()
}
