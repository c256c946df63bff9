package types

import (
	"time"
)

const (
	MessageTypeText   = "text"
	MessageTypeGif    = "gif"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

const (
	ProviderGuest = "guest"
	ProviderLocal = "local"
	ProviderOAuth = "oauth"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	Id         int64     `json:"id"`
	Username   string    `json:"username"`
	Provider   string    `json:"provider,omitempty"`
	Role       string    `json:"role,omitempty"`
	Password   string    `json:"-"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorId   int64     `json:"creator_id"`
	Members     []int64   `json:"members"`
	MemberCount int       `json:"member_count"`
	Capacity    int       `json:"capacity"`
	IsPrivate   bool      `json:"is_private"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// HasMember reports whether userId is in the room's member list.
func (r *Room) HasMember(userId int64) bool {
	for _, id := range r.Members {
		if id == userId {
			return true
		}
	}
	return false
}

type Message struct {
	Id        int64      `json:"id"`
	RoomId    int64      `json:"room_id"`
	UserId    int64      `json:"user_id"`
	Username  string     `json:"username"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	MediaUrl  string     `json:"media_url,omitempty"`
	IsDeleted bool       `json:"is_deleted,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// MessageEvent is the payload broadcast to every connection bound to a room.
// MessageId is nil when the message could not be persisted.
type MessageEvent struct {
	Room       string    `json:"room"`
	RoomId     int64     `json:"room_id,omitempty"`
	MessageId  *int64    `json:"message_id"`
	AuthorId   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	GifUrl     string    `json:"gif_url,omitempty"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
}
