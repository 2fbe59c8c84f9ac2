package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"roomchat/internal/db"
	"roomchat/internal/models"
)

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, owner, name string, isPublic bool) (models.Room, models.Message, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	ListUserRooms(ctx context.Context, owner string) ([]models.Room, error)
	ListGlobalRooms(ctx context.Context) ([]models.Room, error)
	ListPublicRooms(ctx context.Context, excluding string) ([]models.Room, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, name, created_by, created_at, is_public`

// CreateRoom writes the room, its tail and the welcome message in one transaction.
// A concurrent create of the same (owner, name) loses with ErrRoomExists.
func (r *RoomRepo) CreateRoom(ctx context.Context, owner, name string, isPublic bool) (models.Room, models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	room := models.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: owner,
		CreatedAt: time.Now().UnixMilli(),
		IsPublic:  isPublic,
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO rooms (id, name, created_by, created_at, is_public) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		room.ID, room.Name, room.CreatedBy, room.CreatedAt, room.IsPublic)
	if err != nil {
		return models.Room{}, models.Message{}, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Room{}, models.Message{}, err
	}
	if inserted == 0 {
		err = ErrRoomExists
		return models.Room{}, models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO room_tails (room_id, last_message_id) VALUES (?, ?)`), room.ID, models.BeginningOfRoom); err != nil {
		return models.Room{}, models.Message{}, err
	}

	welcome, err := appendInTx(ctx, tx, room.ID, models.SystemOwner, "Welcome to "+name)
	if err != nil {
		return models.Room{}, models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, models.Message{}, err
	}
	return room, welcome, nil
}

// GetRoom fetches a single room.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, r.db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE id = ?`), roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListUserRooms returns every room created by owner.
func (r *RoomRepo) ListUserRooms(ctx context.Context, owner string) ([]models.Room, error) {
	rooms := []models.Room{}
	err := r.db.SelectContext(ctx, &rooms, r.db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE created_by = ? ORDER BY created_at ASC, id ASC`), owner)
	return rooms, err
}

// ListGlobalRooms returns rooms owned by the reserved global owner.
func (r *RoomRepo) ListGlobalRooms(ctx context.Context) ([]models.Room, error) {
	return r.ListUserRooms(ctx, models.GlobalOwner)
}

// ListPublicRooms returns public rooms not owned by the global owner or by excluding.
func (r *RoomRepo) ListPublicRooms(ctx context.Context, excluding string) ([]models.Room, error) {
	rooms := []models.Room{}
	err := r.db.SelectContext(ctx, &rooms, r.db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE is_public = ? AND created_by NOT IN (?, ?) ORDER BY created_at ASC, id ASC`),
		true, models.GlobalOwner, excluding)
	if err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}
	return rooms, nil
}

var _ RoomRepository = (*RoomRepo)(nil)

// isPostgres reports whether the driver supports LISTEN/NOTIFY.
func isPostgres(driverName string) bool {
	return driverName == db.DriverPostgres
}
