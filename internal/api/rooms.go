package api

import (
	"encoding/json"
	"net/http"

	"github.com/npezzotti/go-chatrelay/internal/chat"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	Capacity    int    `json:"capacity"`
}

// roomForUser loads the room named by the path and checks that userId may
// see it. It writes the error response itself.
func (s *ChatRelayApp) roomForUser(w http.ResponseWriter, r *http.Request, userId int64) (*types.Room, bool) {
	roomId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return nil, false
	}

	return s.visibleRoom(w, r, roomId, userId)
}

// visibleRoom loads roomId and checks that userId may see it. Private rooms
// are visible to their members only.
func (s *ChatRelayApp) visibleRoom(w http.ResponseWriter, r *http.Request, roomId, userId int64) (*types.Room, bool) {
	room, err := s.rooms.GetRoom(r.Context(), roomId)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}

	if room.IsPrivate && !room.HasMember(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return nil, false
	}

	return room, true
}

func (s *ChatRelayApp) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListPublicRooms(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ChatRelayApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.CreateRoom(r.Context(), chat.CreateRoomParams{
		Name:        createRoomReq.Name,
		Description: createRoomReq.Description,
		CreatorId:   userId,
		IsPrivate:   createRoomReq.IsPrivate,
		Capacity:    createRoomReq.Capacity,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *ChatRelayApp) getRoom(w http.ResponseWriter, r *http.Request) {
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

	s.writeJson(w, http.StatusOK, room)
}

func (s *ChatRelayApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.cs.DeleteRoom(r.Context(), roomId, userId); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatRelayApp) joinRoom(w http.ResponseWriter, r *http.Request) {
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

	if err := s.rooms.AddMember(r.Context(), room.Id, userId); err != nil {
		s.writeError(w, err)
		return
	}

	room, err := s.rooms.GetRoom(r.Context(), room.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

// leaveRoom drops the caller's membership and detaches every connection the
// caller has open to the room.
func (s *ChatRelayApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.Context(), roomId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.cs.LeaveRoom(r.Context(), nil, room.Name, userId, true); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
