package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventReceiveMessage = "receive-message"
	EventReceiveGif     = "receive-gif"
	EventRoomDeleted    = "room-deleted"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Send    *Send    `json:"send,omitempty"`
	SendGif *SendGif `json:"send_gif,omitempty"`
}

type Join struct {
	Room string `json:"room"`
}

type Leave struct {
	Room        string `json:"room"`
	Unsubscribe bool   `json:"unsubscribe,omitempty"`
}

type Send struct {
	Room    string `json:"room"`
	Content string `json:"content"`
}

type SendGif struct {
	Room    string `json:"room"`
	GifUrl  string `json:"gif_url"`
	Content string `json:"content,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Event        string              `json:"event,omitempty"`
	Response     *Response           `json:"response,omitempty"`
	Message      *types.MessageEvent `json:"message,omitempty"`
	Notification *Notification       `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Presence    *Presence    `json:"presence,omitempty"`
	RoomDeleted *RoomDeleted `json:"room_deleted,omitempty"`
}

type Presence struct {
	Present  bool   `json:"present"`
	Room     string `json:"room"`
	UserId   int64  `json:"user_id"`
	Username string `json:"username"`
}

type RoomDeleted struct {
	Room   string `json:"room"`
	RoomId int64  `json:"room_id"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

// ErrResponse maps a core error to a response frame.
func ErrResponse(id int, err error) *ServerMessage {
	var code int
	switch {
	case errors.Is(err, chat.ErrValidationFailed):
		code = http.StatusBadRequest
	case errors.Is(err, chat.ErrRoomNotFound):
		return ErrRoomNotFound(id)
	case errors.Is(err, chat.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrNotAMember), errors.Is(err, chat.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, chat.ErrCapacityExceeded), errors.Is(err, errJoinInProgress):
		code = http.StatusConflict
	default:
		return ErrInternalError(id)
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        err.Error(),
		},
	}
}

func messageEvent(evt *types.MessageEvent) *ServerMessage {
	event := EventReceiveMessage
	if evt.Type == types.MessageTypeGif {
		event = EventReceiveGif
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       event,
		Message:     evt,
	}
}

func presenceEvent(room string, userId int64, username string, present bool) *ServerMessage {
	event := EventUserLeft
	if present {
		event = EventUserJoined
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       event,
		Notification: &Notification{
			Presence: &Presence{
				Present:  present,
				Room:     room,
				UserId:   userId,
				Username: username,
			},
		},
	}
}

func roomDeletedEvent(room string, roomId int64) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventRoomDeleted,
		Notification: &Notification{
			RoomDeleted: &RoomDeleted{
				Room:   room,
				RoomId: roomId,
			},
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
