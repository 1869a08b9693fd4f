package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const rejectsSchema = `
CREATE TABLE IF NOT EXISTS rejects (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	rejected_at TIMESTAMP NOT NULL,
	stream      TEXT NOT NULL,
	violations  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rejects_stream ON rejects(stream);
`

// RejectJournal is a local SQLite log of rejected records and the violations
// that rejected them. The queue redelivers nacked messages on its own; the
// journal exists so an operator can see what keeps bouncing without a queue
// console.
type RejectJournal struct {
	db *sql.DB
}

// OpenRejectJournal opens the journal at the given path. An empty path or
// ":memory:" uses an in-memory database.
func OpenRejectJournal(dbPath string) (*RejectJournal, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open reject journal: %w", err)
	}

	if _, err := db.Exec(rejectsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reject journal schema: %w", err)
	}

	return &RejectJournal{db: db}, nil
}

// Close closes the journal database.
func (j *RejectJournal) Close() error {
	return j.db.Close()
}

// Record logs one rejected record. Journal writes are best-effort; a failed
// write never affects the pipeline's handling of the message.
func (j *RejectJournal) Record(stream string, payload []byte, violations []string) {
	_, err := j.db.Exec(`
		INSERT INTO rejects (rejected_at, stream, violations, payload)
		VALUES (?, ?, ?, ?)
	`, time.Now(), stream, strings.Join(violations, "; "), string(payload))
	if err != nil {
		log.Warn().Err(err).Str("stream", stream).Msg("reject journal write failed")
	}
}

// Reject is one journal entry.
type Reject struct {
	ID         int64
	RejectedAt time.Time
	Stream     string
	Violations []string
	Payload    string
}

// Recent returns the most recent journal entries, newest first.
func (j *RejectJournal) Recent(limit int) ([]Reject, error) {
	rows, err := j.db.Query(`
		SELECT id, rejected_at, stream, violations, payload
		FROM rejects ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []Reject
	for rows.Next() {
		var r Reject
		var violations string
		if err := rows.Scan(&r.ID, &r.RejectedAt, &r.Stream, &violations, &r.Payload); err != nil {
			continue
		}
		if violations != "" {
			r.Violations = strings.Split(violations, "; ")
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the number of journal entries for a stream.
func (j *RejectJournal) Count(stream string) (int, error) {
	var n int
	err := j.db.QueryRow("SELECT COUNT(*) FROM rejects WHERE stream = ?", stream).Scan(&n)
	return n, err
}
