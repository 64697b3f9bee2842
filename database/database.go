package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"saavnbridge/model"
)

const DefaultPath = "data/saavnbridge.db"

// timeLayout is fixed width so played_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Database struct {
	db     *sql.DB
	logger *log.Entry
}

type HistoryRecord struct {
	ID              int64
	SessionID       string
	TrackID         string
	Catalog         model.Catalog
	Title           string
	Artists         string
	PlayedAt        time.Time
	DurationSeconds int
}

type MostPlayedRecord struct {
	TrackID    string
	Title      string
	Artists    string
	PlayCount  int
	LastPlayed time.Time
}

// Open opens (creating if needed) the SQLite database at path and runs
// migrations. An empty path uses DefaultPath; ":memory:" is accepted for tests.
func Open(path string) (*Database, error) {
	if path == "" {
		path = DefaultPath
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	d := &Database{
		db: db,
		logger: log.WithFields(log.Fields{
			"module": "database",
		}),
	}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Infof("Database initialized at %s", path)
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS song_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			catalog TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			artists TEXT NOT NULL DEFAULT '',
			played_at TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_song_history_played_at ON song_history(played_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_song_history_track_id ON song_history(track_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// RecordPlay inserts a play record for a track that finished playing.
func (d *Database) RecordPlay(ctx context.Context, sessionID string, track model.Track) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO song_history (session_id, track_id, catalog, title, artists, played_at, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, track.ID, string(track.SourceCatalog), track.Title, track.Artists(),
		time.Now().UTC().Format(timeLayout), track.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to record play: %w", err)
	}
	return nil
}

// GetHistory returns the most recent plays, newest first.
func (d *Database) GetHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, session_id, track_id, catalog, title, artists, played_at, duration_seconds
		 FROM song_history
		 ORDER BY played_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		var catalog, playedAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TrackID, &catalog, &r.Title,
			&r.Artists, &playedAt, &r.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Catalog = model.Catalog(catalog)
		r.PlayedAt = d.parseTime(playedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetMostPlayed returns the most played tracks.
func (d *Database) GetMostPlayed(ctx context.Context, limit int) ([]MostPlayedRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT track_id, title, artists, COUNT(*) as play_count, MAX(played_at) as last_played
		 FROM song_history
		 GROUP BY track_id
		 ORDER BY play_count DESC, last_played DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query most played: %w", err)
	}
	defer rows.Close()

	var records []MostPlayedRecord
	for rows.Next() {
		var r MostPlayedRecord
		var lastPlayed string
		if err := rows.Scan(&r.TrackID, &r.Title, &r.Artists, &r.PlayCount, &lastPlayed); err != nil {
			return nil, fmt.Errorf("failed to scan most played row: %w", err)
		}
		r.LastPlayed = d.parseTime(lastPlayed)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (d *Database) parseTime(value string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t
		}
	}
	d.logger.Warnf("failed to parse timestamp '%s' with all known formats", value)
	return time.Time{}
}
