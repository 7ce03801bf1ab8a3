package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SetState upserts a sync_state value.
func (db *DB) SetState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// State returns a sync_state value and whether it exists.
func (db *DB) State(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func cursorKey(roomID int64) string {
	return fmt.Sprintf("room.%d.cursor", roomID)
}

// SaveCursor checkpoints the highest merged message id of a room. The stored
// value never decreases.
func (db *DB) SaveCursor(roomID, cursor int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = CASE WHEN CAST(excluded.value AS INTEGER) > CAST(sync_state.value AS INTEGER)
				THEN excluded.value ELSE sync_state.value END,
			updated_at = excluded.updated_at`,
		cursorKey(roomID), strconv.FormatInt(cursor, 10), now)
	return err
}

// LoadCursor returns the checkpointed cursor of a room, if any.
func (db *DB) LoadCursor(roomID int64) (int64, bool, error) {
	v, ok, err := db.State(cursorKey(roomID))
	if err != nil || !ok {
		return 0, false, err
	}
	cursor, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cursor %q: %w", v, err)
	}
	return cursor, true, nil
}
