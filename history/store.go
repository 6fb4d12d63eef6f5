// Package history keeps the most recent transcriptions in a local SQLite
// database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"hark/encoder"
	"hark/session"
)

// MaxEntries is how many transcriptions are kept.
const MaxEntries = 50

const FileName = "history.db"

var ErrNotFound = errors.New("history entry not found")

type Entry struct {
	ID            string
	CreatedAt     time.Time
	RawText       string
	ProcessedText string
	AudioSeconds  float64
	// Audio is FLAC, present only when audio keeping is enabled. Recent
	// leaves it nil; use Audio to fetch it.
	Audio    []byte
	HasAudio bool
}

type Store struct {
	db  *sql.DB
	max int
}

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id             TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	raw_text       TEXT NOT NULL,
	processed_text TEXT NOT NULL,
	audio_seconds  REAL NOT NULL DEFAULT 0,
	audio          BLOB
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, max: MaxEntries}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts e and prunes everything beyond the newest MaxEntries.
func (s *Store) Add(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var audio any
	if len(e.Audio) > 0 {
		audio = e.Audio
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO transcriptions (id, created_at, raw_text, processed_text, audio_seconds, audio)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.CreatedAt.UnixMilli(), e.RawText, e.ProcessedText, e.AudioSeconds, audio); err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM transcriptions WHERE id NOT IN (
			SELECT id FROM transcriptions ORDER BY created_at DESC, rowid DESC LIMIT ?
		)
	`, s.max); err != nil {
		return fmt.Errorf("prune transcriptions: %w", err)
	}
	return tx.Commit()
}

// Recent returns up to n entries, newest first. n <= 0 means all.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = s.max
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, raw_text, processed_text, audio_seconds, audio IS NOT NULL
		FROM transcriptions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query transcriptions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &createdAt, &e.RawText, &e.ProcessedText, &e.AudioSeconds, &e.HasAudio); err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Audio returns the stored FLAC for id.
func (s *Store) Audio(id string) ([]byte, error) {
	var audio []byte
	err := s.db.QueryRow(`SELECT audio FROM transcriptions WHERE id = ?`, id).Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNotFound
	}
	return audio, nil
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transcriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transcriptions: %w", err)
	}
	return n, nil
}

func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM transcriptions`); err != nil {
		return fmt.Errorf("clear transcriptions: %w", err)
	}
	return nil
}

// FromCompleted builds an entry for a finished session, encoding the clip
// to FLAC when keepAudio is set.
func FromCompleted(c session.Completed, keepAudio bool) (Entry, error) {
	e := Entry{
		ID:            c.SessionID,
		CreatedAt:     c.StartedAt,
		RawText:       c.RawText,
		ProcessedText: c.Text,
	}
	if c.Clip == nil {
		return e, nil
	}
	e.AudioSeconds = c.Clip.Duration().Seconds()
	if keepAudio {
		flac, err := encoder.EncodeFLAC(c.Clip.Samples())
		if err != nil {
			return e, fmt.Errorf("encode audio: %w", err)
		}
		e.Audio = flac
		e.HasAudio = true
	}
	return e, nil
}
