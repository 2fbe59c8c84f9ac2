package chat

import (
	"errors"
	"net/http"
)

// Error taxonomy surfaced to callers. Storage details are wrapped, never exposed.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrMissingRoom        = errors.New("no room specified")
	ErrInvalidName        = errors.New("room names must be alphanumeric")
	ErrRoomExists         = errors.New("room already exists")
	ErrInvalidPayload     = errors.New("invalid message payload")
	ErrNotFound           = errors.New("room not found")
	ErrWriteConflict      = errors.New("write conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Reason returns the stable client-facing code for err.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrMissingRoom):
		return "NOROOMID"
	case errors.Is(err, ErrInvalidName):
		return "INVALID_NAME"
	case errors.Is(err, ErrRoomExists):
		return "ROOM_EXISTS"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrNotFound):
		return "NOROOM"
	case errors.Is(err, ErrWriteConflict):
		return "WRITE_CONFLICT"
	default:
		return "STORAGE_UNAVAILABLE"
	}
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingRoom), errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrRoomExists):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrWriteConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
