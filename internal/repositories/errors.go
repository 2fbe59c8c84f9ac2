package repositories

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrWriteConflict = errors.New("room tail changed during append")
)
