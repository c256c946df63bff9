package database

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrRoomNotFound     = errors.New("room not found or inactive")
	ErrCapacityExceeded = errors.New("room is at capacity")
	ErrDuplicateName    = errors.New("name already taken")

	errAlreadyMember = errors.New("already a member")
)
