package access

import (
	"context"
	"errors"

	"roomchat/internal/models"
	"roomchat/internal/repositories"
)

// Decision explains a CanAccess result. Callers surface Missing and Forbidden
// identically but log them apart.
type Decision int

const (
	Allowed Decision = iota
	Missing
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Missing:
		return "missing"
	default:
		return "forbidden"
	}
}

type roomGetter interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

// Guard answers whether a user may read or write a room.
type Guard struct {
	rooms roomGetter
}

// NewGuard constructs a Guard.
func NewGuard(rooms roomGetter) *Guard {
	return &Guard{rooms: rooms}
}

// CanAccess reports whether userID may use roomID.
func (g *Guard) CanAccess(ctx context.Context, roomID, userID string) (bool, error) {
	_, decision, err := g.Check(ctx, roomID, userID)
	return decision == Allowed, err
}

// Check resolves the room and returns it with the access decision. A room is
// accessible when it is public, global, or owned by userID.
func (g *Guard) Check(ctx context.Context, roomID, userID string) (models.Room, Decision, error) {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return models.Room{}, Missing, nil
	}
	if err != nil {
		return models.Room{}, Missing, err
	}
	if room.IsPublic || room.IsGlobal() || room.CreatedBy == userID {
		return room, Allowed, nil
	}
	return room, Forbidden, nil
}
