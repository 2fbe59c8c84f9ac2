package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"roomchat/internal/models"
)

// CheckpointRepository tracks the last message delivered per (user, room).
type CheckpointRepository interface {
	Get(ctx context.Context, userID, roomID string) (int64, error)
	Advance(ctx context.Context, userID, roomID string, messageID int64) error
}

// CheckpointRepo is a sqlx-backed CheckpointRepository.
type CheckpointRepo struct {
	db *sqlx.DB
}

// NewCheckpointRepo constructs a CheckpointRepo.
func NewCheckpointRepo(db *sqlx.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Get returns the stored checkpoint or BeginningOfRoom.
func (r *CheckpointRepo) Get(ctx context.Context, userID, roomID string) (int64, error) {
	var cp models.Checkpoint
	err := r.db.GetContext(ctx, &cp, r.db.Rebind(`SELECT user_id, room_id, last_seen FROM checkpoints WHERE user_id = ? AND room_id = ?`), userID, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BeginningOfRoom, nil
	}
	if err != nil {
		return 0, err
	}
	return cp.LastSeenID, nil
}

// Advance moves the checkpoint forward. A value not greater than the stored one is ignored.
func (r *CheckpointRepo) Advance(ctx context.Context, userID, roomID string, messageID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO checkpoints (user_id, room_id, last_seen) VALUES (?, ?, ?)
        ON CONFLICT (user_id, room_id) DO UPDATE SET last_seen = excluded.last_seen
        WHERE checkpoints.last_seen < excluded.last_seen`), userID, roomID, messageID)
	return err
}

var _ CheckpointRepository = (*CheckpointRepo)(nil)
