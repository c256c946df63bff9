package chat

import "errors"

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotAMember       = errors.New("not a member of room")
	ErrCapacityExceeded = errors.New("room capacity exceeded")
	ErrRoomNotFound     = errors.New("room not found")
)
