package database

import "time"

type User struct {
	Id           int64  `gorm:"primaryKey"`
	Username     string `gorm:"not null;uniqueIndex"`
	Provider     string `gorm:"not null;default:local"`
	Role         string `gorm:"not null;default:user"`
	PasswordHash string
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Room names are unique among active rooms only, so a soft-deleted
// room's name can be reused.
type Room struct {
	Id          int64  `gorm:"primaryKey"`
	Name        string `gorm:"not null;uniqueIndex:idx_rooms_active_name,where:active = true"`
	Description string
	CreatorId   int64 `gorm:"not null"`
	MemberCount int   `gorm:"not null;default:0"`
	Capacity    int   `gorm:"not null"`
	IsPrivate   bool  `gorm:"not null;default:false"`
	Active      bool  `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []int64 `gorm:"-"`
}

type RoomMember struct {
	RoomId    int64 `gorm:"primaryKey;autoIncrement:false"`
	UserId    int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

type Message struct {
	Id        int64  `gorm:"primaryKey;index:idx_messages_room_id_id,priority:2,sort:desc"`
	RoomId    int64  `gorm:"not null;index:idx_messages_room_id_id,priority:1"`
	UserId    int64  `gorm:"not null"`
	Username  string `gorm:"not null"`
	Content   string `gorm:"not null"`
	Type      string `gorm:"not null;default:text"`
	MediaUrl  string
	IsDeleted bool `gorm:"not null;default:false"`
	CreatedAt time.Time
	EditedAt  *time.Time
}

type CreateAccountParams struct {
	Username     string
	Provider     string
	Role         string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	CreatorId   int64
	Capacity    int
	IsPrivate   bool
}

type CreateMessageParams struct {
	RoomId   int64
	UserId   int64
	Username string
	Content  string
	Type     string
	MediaUrl string
}

// MessageQuery selects non-deleted messages of a room. Results are always
// returned oldest first.
type MessageQuery struct {
	RoomId  int64
	Limit   int
	Offset  int
	SinceId int64
}
