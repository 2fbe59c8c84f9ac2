package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"roomchat/internal/models"
	"roomchat/internal/notify"
)

// MessageRepository is the per-room append-only message log.
type MessageRepository interface {
	Append(ctx context.Context, roomID, owner, payload string) (models.Message, error)
	Range(ctx context.Context, roomID string, fromExclusive, toInclusive int64) ([]models.Message, error)
	Tail(ctx context.Context, roomID string) (int64, error)
}

// MessageRepo is a sqlx-backed MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append assigns the next id in the room and moves the tail in the same transaction.
// It returns ErrWriteConflict when another append moved the tail first; callers retry.
func (r *MessageRepo) Append(ctx context.Context, roomID, owner, payload string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	msg, err := appendInTx(ctx, tx, roomID, owner, payload)
	if err != nil {
		return models.Message{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Range returns messages with fromExclusive < id <= toInclusive in id order.
func (r *MessageRepo) Range(ctx context.Context, roomID string, fromExclusive, toInclusive int64) ([]models.Message, error) {
	msgs := []models.Message{}
	if toInclusive <= fromExclusive {
		return msgs, nil
	}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(`SELECT room_id, id, owner, payload, created_at FROM messages WHERE room_id = ? AND id > ? AND id <= ? ORDER BY id ASC`),
		roomID, fromExclusive, toInclusive)
	return msgs, err
}

// Tail returns the id of the newest message in the room, or BeginningOfRoom when there is none.
func (r *MessageRepo) Tail(ctx context.Context, roomID string) (int64, error) {
	var tail int64
	err := r.db.GetContext(ctx, &tail, r.db.Rebind(`SELECT last_message_id FROM room_tails WHERE room_id = ?`), roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BeginningOfRoom, nil
	}
	return tail, err
}

// appendInTx compare-and-swaps the room tail and writes the message at the new id.
func appendInTx(ctx context.Context, tx *sqlx.Tx, roomID, owner, payload string) (models.Message, error) {
	var tail int64
	err := tx.GetContext(ctx, &tail, tx.Rebind(`SELECT last_message_id FROM room_tails WHERE room_id = ?`), roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        tail + 1,
		RoomID:    roomID,
		Owner:     owner,
		Payload:   payload,
		CreatedAt: time.Now().UnixMilli(),
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE room_tails SET last_message_id = ? WHERE room_id = ? AND last_message_id = ?`), msg.ID, roomID, tail)
	if err != nil {
		return models.Message{}, err
	}
	swapped, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, err
	}
	if swapped == 0 {
		return models.Message{}, ErrWriteConflict
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO messages (room_id, id, owner, payload, created_at) VALUES (?, ?, ?, ?, ?)`),
		msg.RoomID, msg.ID, msg.Owner, msg.Payload, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	if isPostgres(tx.DriverName()) {
		// Delivered to listeners only if the transaction commits.
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notify.TailChannel, notify.FormatTailEvent(roomID, msg.ID)); err != nil {
			return models.Message{}, err
		}
	}
	return msg, nil
}

var _ MessageRepository = (*MessageRepo)(nil)
