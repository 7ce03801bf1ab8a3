package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

const upsertMessageSQL = `
	INSERT INTO messages (room_id, id, sender_id, sender_name, type, content, file_reference, duration, created_at, cached_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(room_id, id) DO UPDATE SET
		sender_id = excluded.sender_id,
		sender_name = excluded.sender_name,
		type = excluded.type,
		content = excluded.content,
		file_reference = excluded.file_reference,
		duration = excluded.duration,
		created_at = excluded.created_at,
		cached_at = excluded.cached_at`

// UpsertMessages caches confirmed messages in one transaction (idempotent on
// room_id + id). Optimistic entries (id <= 0) are skipped. It returns how
// many rows were written.
func (db *DB) UpsertMessages(msgs []chat.Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(upsertMessageSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	n := 0
	for _, m := range msgs {
		if m.ID <= 0 {
			continue
		}
		if _, err := stmt.Exec(m.RoomID, m.ID, m.SenderID, m.SenderName, string(m.Type), m.Content,
			m.FileReference, m.Duration, formatTime(m.CreatedAt), now); err != nil {
			return 0, fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// DeleteMessage removes a cached message.
func (db *DB) DeleteMessage(roomID, id int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE room_id = ? AND id = ?`, roomID, id)
	return err
}

// ListMessages returns the newest limit messages of a room in ascending id order.
func (db *DB) ListMessages(roomID int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT room_id, id, sender_id, sender_name, type, content, file_reference, duration, created_at
		FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// SearchMessages returns cached messages of a room whose content contains
// query, newest first.
func (db *DB) SearchMessages(roomID int64, query string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT room_id, id, sender_id, sender_name, type, content, file_reference, duration, created_at
		FROM messages
		WHERE room_id = ? AND content LIKE ? ESCAPE '\'
		ORDER BY id DESC
		LIMIT ?`, roomID, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]chat.Message, error) {
	var msgs []chat.Message
	for rows.Next() {
		var (
			m         chat.Message
			typ       string
			createdAt string
		)
		if err := rows.Scan(&m.RoomID, &m.ID, &m.SenderID, &m.SenderName, &typ, &m.Content,
			&m.FileReference, &m.Duration, &createdAt); err != nil {
			return nil, err
		}
		m.Type = chat.Type(typ)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func escapeLike(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
