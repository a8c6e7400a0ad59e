// Package history persists which source files were already
// transcribed and exported, and hands out sequential title numbers.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_files (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path       TEXT NOT NULL,
	prefix            TEXT NOT NULL,
	naming_mode       TEXT NOT NULL,
	sequential_number INTEGER,
	output_title      TEXT NOT NULL,
	output_mode       TEXT NOT NULL,
	output_path       TEXT,
	doc_id            TEXT,
	doc_url           TEXT,
	language          TEXT,
	processed_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_processed_source ON processed_files(source_path);
CREATE INDEX IF NOT EXISTS idx_processed_title ON processed_files(output_title);
`

// Record is one successfully processed file.
type Record struct {
	SourcePath       string `json:"source_path"`
	Prefix           string `json:"prefix"`
	NamingMode       string `json:"naming_mode"`
	SequentialNumber int    `json:"sequential_number,omitempty"`
	OutputTitle      string `json:"output_title"`
	OutputMode       string `json:"output_mode"`
	OutputPath       string `json:"output_path,omitempty"`
	DocID            string `json:"doc_id,omitempty"`
	DocURL           string `json:"doc_url,omitempty"`
	Language         string `json:"language,omitempty"`
	ProcessedAt      string `json:"processed_at"`
}

// DB is the SQLite-backed history store.
type DB struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &DB{db: db}, nil
}

// NextSequentialNumber returns the next 1-based number for a prefix.
func (d *DB) NextSequentialNumber(prefix string) (int, error) {
	row := d.db.QueryRow(
		`SELECT COALESCE(MAX(sequential_number), 0) FROM processed_files
		 WHERE prefix = ? AND naming_mode = 'sequential'`, prefix)

	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("next sequential number: %w", err)
	}
	return max + 1, nil
}

// AlreadyProcessed reports whether this exact source+prefix+mode
// combination was exported before.
func (d *DB) AlreadyProcessed(sourcePath, prefix, outputMode string) (bool, error) {
	row := d.db.QueryRow(
		`SELECT 1 FROM processed_files
		 WHERE source_path = ? AND prefix = ? AND output_mode = ?`,
		sourcePath, prefix, outputMode)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("already processed lookup: %w", err)
	}
	return true, nil
}

// TitleExists reports whether a title was already used for a mode.
func (d *DB) TitleExists(title, outputMode string) (bool, error) {
	row := d.db.QueryRow(
		`SELECT 1 FROM processed_files WHERE output_title = ? AND output_mode = ?`,
		title, outputMode)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("title lookup: %w", err)
	}
	return true, nil
}

// Save persists a successfully processed job.
func (d *DB) Save(rec Record) error {
	var seq sql.NullInt64
	if rec.SequentialNumber > 0 {
		seq = sql.NullInt64{Int64: int64(rec.SequentialNumber), Valid: true}
	}

	_, err := d.db.Exec(
		`INSERT INTO processed_files
		 (source_path, prefix, naming_mode, sequential_number,
		  output_title, output_mode, output_path, doc_id, doc_url, language, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourcePath, rec.Prefix, rec.NamingMode, seq,
		rec.OutputTitle, rec.OutputMode, rec.OutputPath, rec.DocID, rec.DocURL,
		rec.Language, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (d *DB) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.db.Query(
		`SELECT source_path, prefix, naming_mode, COALESCE(sequential_number, 0),
		        output_title, output_mode, COALESCE(output_path, ''),
		        COALESCE(doc_id, ''), COALESCE(doc_url, ''), COALESCE(language, ''),
		        processed_at
		 FROM processed_files ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.SourcePath, &rec.Prefix, &rec.NamingMode, &rec.SequentialNumber,
			&rec.OutputTitle, &rec.OutputMode, &rec.OutputPath,
			&rec.DocID, &rec.DocURL, &rec.Language, &rec.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
