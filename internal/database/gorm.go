package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormChatRepository struct {
	db *gorm.DB
}

func newGormLogger(l *log.Logger) logger.Interface {
	if l == nil {
		return logger.Default.LogMode(logger.Silent)
	}

	return logger.New(l, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func NewGormChatRepository(driver, dsn string, l *log.Logger) (*GormChatRepository, error) {
	var dial gorm.Dialector
	switch driver {
	case DriverGormPostgres:
		dial = postgres.Open(dsn)
	case DriverSqlite:
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("invalid gorm driver %q", driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         newGormLogger(l),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	if driver == DriverSqlite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer; one connection also keeps
		// in-memory databases shared.
		sqlDB.SetMaxOpenConns(1)
	}

	return NewGormChatRepositoryFromDB(db)
}

// NewGormChatRepositoryFromDB wraps an open gorm connection and migrates
// the schema.
func NewGormChatRepositoryFromDB(db *gorm.DB) (*GormChatRepository, error) {
	if err := db.AutoMigrate(&User{}, &Room{}, &RoomMember{}, &Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &GormChatRepository{db: db}, nil
}

func (r *GormChatRepository) dropSchema() error {
	return r.db.Migrator().DropTable(&Message{}, &RoomMember{}, &Room{}, &User{})
}

func (r *GormChatRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormChatRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormNotFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func (r *GormChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	u := User{
		Username:     params.Username,
		Provider:     params.Provider,
		Role:         params.Role,
		PasswordHash: params.PasswordHash,
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.db.WithContext(ctx).Create(&u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return User{}, ErrDuplicateName
	}

	return u, err
}

func (r *GormChatRepository) GetAccountById(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.WithContext(ctx).First(&u, id).Error
	return u, gormNotFound(err, ErrNotFound)
}

func (r *GormChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	return u, gormNotFound(err, ErrNotFound)
}

func (r *GormChatRepository) TouchAccount(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"last_seen_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func loadGormMembers(tx *gorm.DB, room *Room) error {
	room.Members = []int64{}
	return tx.Model(&RoomMember{}).
		Where("room_id = ?", room.Id).
		Order("created_at, user_id").
		Pluck("user_id", &room.Members).Error
}

func createGormRoom(tx *gorm.DB, params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	room := Room{
		Name:        params.Name,
		Description: params.Description,
		CreatorId:   params.CreatorId,
		MemberCount: 1,
		Capacity:    params.Capacity,
		IsPrivate:   params.IsPrivate,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Create(&room).Error; err != nil {
		return Room{}, err
	}

	member := RoomMember{RoomId: room.Id, UserId: params.CreatorId, CreatedAt: now}
	if err := tx.Create(&member).Error; err != nil {
		return Room{}, fmt.Errorf("insert creator membership: %w", err)
	}

	room.Members = []int64{params.CreatorId}
	return room, nil
}

func (r *GormChatRepository) FindOrCreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error) {
	var (
		room    Room
		created bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ? AND active = ?", params.Name, true).First(&room).Error
		if err == nil {
			return loadGormMembers(tx, &room)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		room, err = createGormRoom(tx, params)
		if err != nil {
			return err
		}
		created = true
		return nil
	})

	// another writer created the room between our lookup and insert
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		room, err = r.GetRoomByName(ctx, params.Name)
		return room, false, err
	}

	return room, created, err
}

func (r *GormChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	var room Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = createGormRoom(tx, params)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return Room{}, ErrDuplicateName
	}

	return room, err
}

func (r *GormChatRepository) GetRoomById(ctx context.Context, id int64) (Room, error) {
	db := r.db.WithContext(ctx)

	var room Room
	if err := db.First(&room, id).Error; err != nil {
		return room, gormNotFound(err, ErrNotFound)
	}

	return room, loadGormMembers(db, &room)
}

func (r *GormChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	db := r.db.WithContext(ctx)

	var room Room
	if err := db.Where("name = ? AND active = ?", name, true).First(&room).Error; err != nil {
		return room, gormNotFound(err, ErrNotFound)
	}

	return room, loadGormMembers(db, &room)
}

func (r *GormChatRepository) ListPublicRooms(ctx context.Context) ([]Room, error) {
	rooms := []Room{}
	err := r.db.WithContext(ctx).
		Where("active = ? AND is_private = ?", true, false).
		Order("name").
		Find(&rooms).Error

	return rooms, err
}

func (r *GormChatRepository) SoftDeleteRoom(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&Room{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormChatRepository) AddMember(ctx context.Context, roomId, userId int64) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&Room{}).
			Where("id = ? AND active = ? AND member_count < capacity", roomId, true).
			Where("NOT EXISTS (SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)", roomId, userId).
			UpdateColumns(map[string]any{
				"member_count": gorm.Expr("member_count + 1"),
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			var room Room
			if err := tx.Select("id", "active").First(&room, roomId).Error; err != nil {
				return gormNotFound(err, ErrRoomNotFound)
			}
			if !room.Active {
				return ErrRoomNotFound
			}

			member, err := gormIsMember(tx, roomId, userId)
			if err != nil {
				return err
			}
			if member {
				return errAlreadyMember
			}
			return ErrCapacityExceeded
		}

		res = tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&RoomMember{RoomId: roomId, UserId: userId, CreatedAt: now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyMember
		}
		return nil
	})

	if errors.Is(err, errAlreadyMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *GormChatRepository) RemoveMember(ctx context.Context, roomId, userId int64) (bool, error) {
	var removed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("room_id = ? AND user_id = ?", roomId, userId).Delete(&RoomMember{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}

		removed = true
		return tx.Model(&Room{}).
			Where("id = ? AND member_count > 0", roomId).
			UpdateColumns(map[string]any{
				"member_count": gorm.Expr("member_count - 1"),
				"updated_at":   time.Now().UTC(),
			}).Error
	})

	return removed, err
}

func gormIsMember(tx *gorm.DB, roomId, userId int64) (bool, error) {
	var count int64
	err := tx.Model(&RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomId, userId).
		Count(&count).Error

	return count > 0, err
}

func (r *GormChatRepository) IsMember(ctx context.Context, roomId, userId int64) (bool, error) {
	return gormIsMember(r.db.WithContext(ctx), roomId, userId)
}

func (r *GormChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	msg := Message{
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Username:  params.Username,
		Content:   params.Content,
		Type:      params.Type,
		MediaUrl:  params.MediaUrl,
		CreatedAt: time.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Create(&msg).Error
	return msg, err
}

func (r *GormChatRepository) GetMessage(ctx context.Context, id int64) (Message, error) {
	var msg Message
	err := r.db.WithContext(ctx).First(&msg, id).Error
	return msg, gormNotFound(err, ErrNotFound)
}

func (r *GormChatRepository) ListMessages(ctx context.Context, query MessageQuery) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("room_id = ? AND is_deleted = ?", query.RoomId, false)

	if query.SinceId > 0 {
		q = q.Where("id > ?", query.SinceId).Order("id ASC")
	} else {
		q = q.Order("id DESC")
	}

	messages := []Message{}
	if err := q.Limit(query.Limit).Offset(query.Offset).Find(&messages).Error; err != nil {
		return nil, err
	}

	if query.SinceId <= 0 {
		slices.Reverse(messages)
	}

	return messages, nil
}

func (r *GormChatRepository) CountMessages(ctx context.Context, roomId int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("room_id = ? AND is_deleted = ?", roomId, false).
		Count(&count).Error

	return count, err
}

func (r *GormChatRepository) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (Message, error) {
	var msg Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Message{}).
			Where("id = ? AND is_deleted = ?", id, false).
			UpdateColumns(map[string]any{"content": content, "edited_at": editedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return tx.First(&msg, id).Error
	})

	return msg, err
}

func (r *GormChatRepository) MarkMessageDeleted(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).
		UpdateColumn("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
