// Package storage persists decoded messages in SQLite so the APRS
// history survives daemon restarts.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/logging"
)

// MessageStore handles persistent storage of decoded messages.
type MessageStore struct {
	db          *sql.DB
	dbPath      string
	maxMessages int
}

// NewMessageStore creates a message store with a SQLite backend.
func NewMessageStore(dbPath string, maxMessages int) (*MessageStore, error) {
	if dbPath == "" {
		dbPath = "./trxd.db"
	}
	if maxMessages <= 0 {
		maxMessages = 10_000
	}
	store := &MessageStore{dbPath: dbPath, maxMessages: maxMessages}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize message store: %w", err)
	}
	return store, nil
}

func (ms *MessageStore) initialize() error {
	if dir := filepath.Dir(ms.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connectionString := ms.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ms.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS decoded_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		src_call TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decoded_kind_ts
		ON decoded_messages(kind, timestamp_ms);
	`
	if _, err := ms.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Info("storage", fmt.Sprintf("message store initialized: %s (max %d messages)", ms.dbPath, ms.maxMessages))
	return nil
}

// Close closes the database.
func (ms *MessageStore) Close() error {
	if ms.db == nil {
		return nil
	}
	return ms.db.Close()
}

// Insert stores one decoded message and prunes past the cap.
func (ms *MessageStore) Insert(msg decode.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	srcCall := ""
	if msg.Aprs != nil {
		srcCall = msg.Aprs.SrcCall
	}
	_, err = ms.db.Exec(
		`INSERT INTO decoded_messages (kind, timestamp_ms, src_call, payload) VALUES (?, ?, ?, ?)`,
		string(msg.Kind), msg.TimestampMs, srcCall, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return ms.prune()
}

func (ms *MessageStore) prune() error {
	_, err := ms.db.Exec(`
		DELETE FROM decoded_messages WHERE id NOT IN (
			SELECT id FROM decoded_messages ORDER BY id DESC LIMIT ?
		)`, ms.maxMessages)
	return err
}

// RecentAprs returns APRS packets decoded since the cutoff, oldest
// first.
func (ms *MessageStore) RecentAprs(since time.Time) ([]decode.AprsPacket, error) {
	rows, err := ms.db.Query(
		`SELECT payload FROM decoded_messages
		 WHERE kind = ? AND timestamp_ms >= ?
		 ORDER BY timestamp_ms ASC`,
		string(decode.KindAprs), since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []decode.AprsPacket
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		msg, err := decode.ParseMessage([]byte(payload))
		if err != nil || msg.Aprs == nil {
			continue
		}
		out = append(out, *msg.Aprs)
	}
	return out, rows.Err()
}

// Recent returns the latest messages of a kind, newest first.
func (ms *MessageStore) Recent(kind decode.Kind, limit int) ([]decode.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ms.db.Query(
		`SELECT payload FROM decoded_messages
		 WHERE kind = ? ORDER BY timestamp_ms DESC LIMIT ?`,
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []decode.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		msg, err := decode.ParseMessage([]byte(payload))
		if err != nil {
			continue
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// Count returns the stored message count per kind.
func (ms *MessageStore) Count(kind decode.Kind) (int, error) {
	var n int
	err := ms.db.QueryRow(
		`SELECT COUNT(*) FROM decoded_messages WHERE kind = ?`, string(kind)).Scan(&n)
	return n, err
}

// Clear drops every stored message.
func (ms *MessageStore) Clear() error {
	_, err := ms.db.Exec(`DELETE FROM decoded_messages`)
	return err
}
