package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Connect opens the database for the given driver and runs migrations.
// Queries in this module are written with ? placeholders and rebound per driver.
func Connect(driver, dsn string) (*sqlx.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite serializes writers; a single connection also keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            created_by TEXT NOT NULL,
            is_public BOOLEAN NOT NULL DEFAULT FALSE,
            created_at BIGINT NOT NULL
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_owner_name_idx ON rooms (created_by, lower(name));`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_public_name_idx ON rooms (lower(name)) WHERE is_public;`,
		`CREATE TABLE IF NOT EXISTS room_tails (
            room_id TEXT PRIMARY KEY REFERENCES rooms(id),
            last_message_id BIGINT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            room_id TEXT NOT NULL REFERENCES rooms(id),
            id BIGINT NOT NULL,
            owner TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at BIGINT NOT NULL,
            PRIMARY KEY (room_id, id)
        );`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
            user_id TEXT NOT NULL,
            room_id TEXT NOT NULL REFERENCES rooms(id),
            last_seen BIGINT NOT NULL,
            PRIMARY KEY (user_id, room_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
