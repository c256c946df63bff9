package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

type CreateMessageRequest struct {
	RoomId   int64  `json:"room_id"`
	Content  string `json:"content"`
	Type     string `json:"type,omitempty"`
	MediaUrl string `json:"media_url,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type CreateMessageResponse struct {
	MessageId *int64              `json:"message_id"`
	Degraded  bool                `json:"degraded"`
	Message   *types.MessageEvent `json:"message"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

func queryInt(r *http.Request, key string) (int64, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *ChatRelayApp) getRoomMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	sinceId, okSince := queryInt(r, "since_id")
	if !okLimit || !okOffset || !okSince {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if limit == 0 {
		limit = int64(s.historyPageSize)
	}

	room, ok := s.roomForUser(w, r, userId)
	if !ok {
		return
	}

	msgs, err := s.messages.ListByRoom(r.Context(), room.Id, chat.ListParams{
		Limit:   int(limit),
		Offset:  int(offset),
		SinceId: sinceId,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *ChatRelayApp) countRoomMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, ok := s.roomForUser(w, r, userId)
	if !ok {
		return
	}

	count, err := s.messages.Count(r.Context(), room.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, CountResponse{Count: count})
}

// createMessage posts a message to a room the caller belongs to and fans it
// out to the room's live connections.
func (s *ChatRelayApp) createMessage(w http.ResponseWriter, r *http.Request) {
	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	room, err := s.rooms.GetRoom(r.Context(), req.RoomId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !room.HasMember(user.Id) {
		s.writeError(w, chat.ErrNotAMember)
		return
	}

	res, err := s.cs.SendToRoom(r.Context(), server.SendParams{
		RoomName: room.Name,
		UserId:   user.Id,
		Username: user.Username,
		Content:  req.Content,
		Type:     req.Type,
		MediaUrl: req.MediaUrl,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	code := http.StatusCreated
	if res.Degraded {
		code = http.StatusAccepted
	}

	s.writeJson(w, code, CreateMessageResponse{
		MessageId: res.MessageId,
		Degraded:  res.Degraded,
		Message:   res.Message,
	})
}

func (s *ChatRelayApp) getMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.messages.Get(r.Context(), msgId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, ok := s.visibleRoom(w, r, msg.RoomId, userId); !ok {
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatRelayApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.messages.Edit(r.Context(), msgId, req.Content, userId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatRelayApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.messages.SoftDelete(r.Context(), msgId, userId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}
