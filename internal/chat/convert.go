package chat

import (
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

func toRoom(r database.Room) *types.Room {
	members := r.Members
	if members == nil {
		members = []int64{}
	}

	return &types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: r.Description,
		CreatorId:   r.CreatorId,
		Members:     members,
		MemberCount: r.MemberCount,
		Capacity:    r.Capacity,
		IsPrivate:   r.IsPrivate,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toMessage(m database.Message) *types.Message {
	return &types.Message{
		Id:        m.Id,
		RoomId:    m.RoomId,
		UserId:    m.UserId,
		Username:  m.Username,
		Content:   m.Content,
		Type:      m.Type,
		MediaUrl:  m.MediaUrl,
		IsDeleted: m.IsDeleted,
		Timestamp: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}
