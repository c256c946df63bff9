package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

const (
	roomColumns    = "id, name, description, creator_id, member_count, capacity, is_private, active, created_at, updated_at"
	messageColumns = "id, room_id, user_id, username, content, type, media_url, is_deleted, created_at, edited_at"
	userColumns    = "id, username, provider, role, password_hash, last_seen_at, created_at, updated_at"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PgChatRepository struct {
	conn *sql.DB
}

func NewPgChatRepository(dsn string) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgChatRepository{conn: db}, nil
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func (db *PgChatRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func scanUser(row rowScanner, u *User) error {
	return row.Scan(
		&u.Id,
		&u.Username,
		&u.Provider,
		&u.Role,
		&u.PasswordHash,
		&u.LastSeenAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
}

func scanRoom(row rowScanner, r *Room) error {
	return row.Scan(
		&r.Id,
		&r.Name,
		&r.Description,
		&r.CreatorId,
		&r.MemberCount,
		&r.Capacity,
		&r.IsPrivate,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
}

func scanMessage(row rowScanner, m *Message) error {
	var editedAt sql.NullTime
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.UserId,
		&m.Username,
		&m.Content,
		&m.Type,
		&m.MediaUrl,
		&m.IsDeleted,
		&m.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return err
	}

	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}

	return nil
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, provider, role, password_hash, last_seen_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5, $5) RETURNING "+userColumns,
		params.Username,
		params.Provider,
		params.Role,
		params.PasswordHash,
		now,
	)

	var u User
	if err := scanUser(row, &u); err != nil {
		if isUniqueViolation(err) {
			return u, ErrDuplicateName
		}
		return u, err
	}

	return u, nil
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id int64) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := scanUser(row, &u)
	return u, notFound(err, ErrNotFound)
}

func (db *PgChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1 LIMIT 1",
		username,
	)

	var u User
	err := scanUser(row, &u)
	return u, notFound(err, ErrNotFound)
}

func (db *PgChatRepository) TouchAccount(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET last_seen_at = $2, updated_at = $2 WHERE id = $1",
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return requireRows(res, ErrNotFound)
}

func requireRows(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

func loadMembers(ctx context.Context, q queryer, room *Room) error {
	rows, err := q.QueryContext(ctx,
		"SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY created_at, user_id",
		room.Id,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	room.Members = []int64{}
	for rows.Next() {
		var userId int64
		if err := rows.Scan(&userId); err != nil {
			return err
		}
		room.Members = append(room.Members, userId)
	}

	return rows.Err()
}

func insertRoom(ctx context.Context, tx *sql.Tx, params CreateRoomParams, onConflict string) (Room, error) {
	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		"INSERT INTO rooms (name, description, creator_id, member_count, capacity, is_private, active, created_at, updated_at) "+
			"VALUES ($1, $2, $3, 1, $4, $5, true, $6, $6) "+onConflict+"RETURNING "+roomColumns,
		params.Name,
		params.Description,
		params.CreatorId,
		params.Capacity,
		params.IsPrivate,
		now,
	)

	var room Room
	if err := scanRoom(row, &room); err != nil {
		return room, err
	}

	_, err := tx.ExecContext(ctx,
		"INSERT INTO room_members (room_id, user_id, created_at) VALUES ($1, $2, $3)",
		room.Id,
		params.CreatorId,
		now,
	)
	if err != nil {
		return room, fmt.Errorf("insert creator membership: %w", err)
	}

	room.Members = []int64{params.CreatorId}
	return room, nil
}

// FindOrCreateRoom returns the active room named params.Name, creating it
// with the requesting user as sole member if none exists. The boolean
// result reports whether the room was created.
func (db *PgChatRepository) FindOrCreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error) {
	var (
		room    Room
		created bool
	)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		room, err = insertRoom(ctx, tx, params, "ON CONFLICT (name) WHERE active = true DO NOTHING ")
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		room, err = getRoomByName(ctx, tx, params.Name)
		return err
	})

	return room, created, err
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	var room Room
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		room, err = insertRoom(ctx, tx, params, "")
		return err
	})
	if isUniqueViolation(err) {
		return room, ErrDuplicateName
	}

	return room, err
}

func (db *PgChatRepository) GetRoomById(ctx context.Context, id int64) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	var room Room
	if err := scanRoom(row, &room); err != nil {
		return room, notFound(err, ErrNotFound)
	}

	return room, loadMembers(ctx, db.conn, &room)
}

func getRoomByName(ctx context.Context, q queryer, name string) (Room, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE name = $1 AND active = true LIMIT 1",
		name,
	)

	var room Room
	if err := scanRoom(row, &room); err != nil {
		return room, notFound(err, ErrNotFound)
	}

	return room, loadMembers(ctx, q, &room)
}

func (db *PgChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	return getRoomByName(ctx, db.conn, name)
}

func (db *PgChatRepository) ListPublicRooms(ctx context.Context) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE active = true AND is_private = false ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var room Room
		if err := scanRoom(rows, &room); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgChatRepository) SoftDeleteRoom(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET active = false, updated_at = $2 WHERE id = $1",
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return requireRows(res, ErrNotFound)
}

// AddMember adds userId to the room's members. The member count is
// incremented with a conditional update in the same transaction as the
// membership insert, so concurrent adds can never exceed capacity.
func (db *PgChatRepository) AddMember(ctx context.Context, roomId, userId int64) (bool, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE rooms SET member_count = member_count + 1, updated_at = $3 "+
				"WHERE id = $1 AND active = true AND member_count < capacity "+
				"AND NOT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)",
			roomId,
			userId,
			now,
		)
		if err != nil {
			return err
		}

		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return explainNoAdd(ctx, tx, roomId, userId)
		}

		res, err = tx.ExecContext(ctx,
			"INSERT INTO room_members (room_id, user_id, created_at) VALUES ($1, $2, $3) "+
				"ON CONFLICT (room_id, user_id) DO NOTHING",
			roomId,
			userId,
			now,
		)
		if err != nil {
			return err
		}

		return requireRows(res, errAlreadyMember)
	})

	if errors.Is(err, errAlreadyMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func explainNoAdd(ctx context.Context, q queryer, roomId, userId int64) error {
	var active bool
	err := q.QueryRowContext(ctx, "SELECT active FROM rooms WHERE id = $1", roomId).Scan(&active)
	if err != nil {
		return notFound(err, ErrRoomNotFound)
	}
	if !active {
		return ErrRoomNotFound
	}

	member, err := isMember(ctx, q, roomId, userId)
	if err != nil {
		return err
	}
	if member {
		return errAlreadyMember
	}

	return ErrCapacityExceeded
}

func (db *PgChatRepository) RemoveMember(ctx context.Context, roomId, userId int64) (bool, error) {
	var removed bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM room_members WHERE room_id = $1 AND user_id = $2",
			roomId,
			userId,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}

		removed = true
		_, err = tx.ExecContext(ctx,
			"UPDATE rooms SET member_count = member_count - 1, updated_at = $2 WHERE id = $1 AND member_count > 0",
			roomId,
			time.Now().UTC(),
		)
		return err
	})

	return removed, err
}

func isMember(ctx context.Context, q queryer, roomId, userId int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)",
		roomId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgChatRepository) IsMember(ctx context.Context, roomId, userId int64) (bool, error) {
	return isMember(ctx, db.conn, roomId, userId)
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, user_id, username, content, type, media_url, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+messageColumns,
		params.RoomId,
		params.UserId,
		params.Username,
		params.Content,
		params.Type,
		params.MediaUrl,
		time.Now().UTC(),
	)

	var msg Message
	err := scanMessage(row, &msg)
	return msg, err
}

func (db *PgChatRepository) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	var msg Message
	err := scanMessage(row, &msg)
	return msg, notFound(err, ErrNotFound)
}

// ListMessages returns at most query.Limit non-deleted messages oldest
// first. Without a cursor the newest page is returned; with SinceId the
// page starts right after the cursor so successive polls never skip ids.
func (db *PgChatRepository) ListMessages(ctx context.Context, query MessageQuery) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if query.SinceId > 0 {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages "+
				"WHERE room_id = $1 AND is_deleted = false AND id > $2 "+
				"ORDER BY id ASC LIMIT $3 OFFSET $4",
			query.RoomId,
			query.SinceId,
			query.Limit,
			query.Offset,
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages "+
				"WHERE room_id = $1 AND is_deleted = false "+
				"ORDER BY id DESC LIMIT $2 OFFSET $3",
			query.RoomId,
			query.Limit,
			query.Offset,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if query.SinceId <= 0 {
		slices.Reverse(messages)
	}

	return messages, nil
}

func (db *PgChatRepository) CountMessages(ctx context.Context, roomId int64) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE room_id = $1 AND is_deleted = false",
		roomId,
	).Scan(&count)

	return count, err
}

func (db *PgChatRepository) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET content = $2, edited_at = $3 "+
			"WHERE id = $1 AND is_deleted = false RETURNING "+messageColumns,
		id,
		content,
		editedAt,
	)

	var msg Message
	err := scanMessage(row, &msg)
	return msg, notFound(err, ErrNotFound)
}

func (db *PgChatRepository) MarkMessageDeleted(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET is_deleted = true WHERE id = $1",
		id,
	)
	if err != nil {
		return err
	}

	return requireRows(res, ErrNotFound)
}
