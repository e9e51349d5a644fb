package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "scrapling.db"

// CrawlDB stores crawl results in a single SQLite file.
type CrawlDB struct {
	db        *sql.DB
	dbPath    string
	storeHTML bool
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if missing.
	CreateIfNotExists bool

	// EnableWAL turns on write-ahead logging so readers do not block the writer.
	EnableWAL bool

	// StoreHTML keeps the page body of successful results. Without it only
	// the content hash and length are stored.
	StoreHTML bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		StoreHTML:         true,
	}
}

// Open opens or creates the history database in dbDir.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, DBFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; concurrent batch fetches queue here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{db: db, dbPath: dbPath, storeHTML: opts.StoreHTML}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

func (cdb *CrawlDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		host TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		outcome TEXT NOT NULL,
		status_code INTEGER,
		reason TEXT,
		title TEXT,
		content_hash TEXT,
		content_length INTEGER,
		executed INTEGER,
		attempts TEXT,
		html TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_results_url ON crawl_results(url);
	CREATE INDEX IF NOT EXISTS idx_results_host ON crawl_results(host);
	CREATE INDEX IF NOT EXISTS idx_results_timestamp ON crawl_results(timestamp);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// ResultRecord is one stored crawl result.
type ResultRecord struct {
	ID            int64                 `json:"id"`
	URL           string                `json:"url"`
	Host          string                `json:"host"`
	Timestamp     time.Time             `json:"timestamp"`
	Outcome       string                `json:"outcome"`
	StatusCode    int                   `json:"status_code,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Title         string                `json:"title,omitempty"`
	ContentHash   string                `json:"content_hash,omitempty"`
	ContentLength int                   `json:"content_length"`
	Executed      int                   `json:"executed"`
	Attempts      []model.AttemptReport `json:"attempts,omitempty"`

	// HTML is only filled by GetResult, and only when the body was stored.
	HTML string `json:"html,omitempty"`
}

// Succeeded reports whether the stored crawl returned usable content.
func (r ResultRecord) Succeeded() bool {
	return r.Outcome == model.OutcomeSuccess.String()
}

// ContentHash returns the hex SHA3-256 digest of content, or "" for empty content.
func ContentHash(content string) string {
	if content == "" {
		return ""
	}
	sum := sha3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SaveResult stores result with the page title (may be empty) and returns the row id.
func (cdb *CrawlDB) SaveResult(ctx context.Context, result model.CrawlResult, title string) (int64, error) {
	attemptsJSON, err := json.Marshal(result.Attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize attempts: %w", err)
	}

	var html sql.NullString
	if cdb.storeHTML && result.HTML != "" {
		html = sql.NullString{String: result.HTML, Valid: true}
	}

	query := `
	INSERT INTO crawl_results
		(url, host, outcome, status_code, reason, title, content_hash, content_length, executed, attempts, html)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := cdb.db.ExecContext(ctx, query,
		result.URL,
		hostOf(result.URL),
		result.Outcome.String(),
		result.Status,
		result.Reason,
		title,
		ContentHash(result.HTML),
		len([]rune(result.HTML)),
		result.Executed(),
		string(attemptsJSON),
		html,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save crawl result: %w", err)
	}
	return res.LastInsertId()
}

// Query filters RecentResults. Zero values match everything.
type Query struct {
	// Host matches the stored host exactly, case-insensitively.
	Host string

	// OnlyFailures returns failed results only.
	OnlyFailures bool

	// Limit caps the number of rows; zero means 50.
	Limit int
}

const defaultQueryLimit = 50

const resultColumns = `id, url, host, timestamp, outcome, status_code, reason, title,
	content_hash, content_length, executed, attempts`

// RecentResults returns stored results, newest first, without HTML bodies.
func (cdb *CrawlDB) RecentResults(ctx context.Context, q Query) ([]ResultRecord, error) {
	query := `SELECT ` + resultColumns + ` FROM crawl_results WHERE 1=1`
	args := make([]any, 0, 3)

	if q.Host != "" {
		query += " AND host = ?"
		args = append(args, strings.ToLower(q.Host))
	}
	if q.OnlyFailures {
		query += " AND outcome = ?"
		args = append(args, model.OutcomeFailure.String())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl results: %w", err)
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// GetResult returns the record with id including its HTML, or nil when absent.
func (cdb *CrawlDB) GetResult(ctx context.Context, id int64) (*ResultRecord, error) {
	query := `SELECT ` + resultColumns + `, html FROM crawl_results WHERE id = ?`

	var html sql.NullString
	rec, err := scanRecord(func(dest ...any) error {
		return cdb.db.QueryRowContext(ctx, query, id).Scan(append(dest, &html)...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.HTML = html.String
	return &rec, nil
}

// HasRecentSuccess reports whether url was fetched successfully within d.
func (cdb *CrawlDB) HasRecentSuccess(ctx context.Context, url string, d time.Duration) (bool, error) {
	query := `
	SELECT COUNT(*) FROM crawl_results
	WHERE url = ? AND outcome = ? AND timestamp > datetime('now', ?)
	`
	modifier := fmt.Sprintf("-%d seconds", int(d.Seconds()))

	var count int
	err := cdb.db.QueryRowContext(ctx, query, url, model.OutcomeSuccess.String(), modifier).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent crawl: %w", err)
	}
	return count > 0, nil
}

// DeleteOlderThan removes results older than d and returns how many were removed.
func (cdb *CrawlDB) DeleteOlderThan(ctx context.Context, d time.Duration) (int64, error) {
	modifier := fmt.Sprintf("-%d seconds", int(d.Seconds()))
	res, err := cdb.db.ExecContext(ctx,
		"DELETE FROM crawl_results WHERE timestamp <= datetime('now', ?)", modifier)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old results: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(scan func(dest ...any) error) (ResultRecord, error) {
	var (
		rec          ResultRecord
		timestamp    string
		reason       sql.NullString
		title        sql.NullString
		hash         sql.NullString
		attemptsJSON sql.NullString
	)
	err := scan(
		&rec.ID,
		&rec.URL,
		&rec.Host,
		&timestamp,
		&rec.Outcome,
		&rec.StatusCode,
		&reason,
		&title,
		&hash,
		&rec.ContentLength,
		&rec.Executed,
		&attemptsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan crawl result: %w", err)
	}

	rec.Timestamp = parseTimestamp(timestamp)
	rec.Reason = reason.String
	rec.Title = title.String
	rec.ContentHash = hash.String
	if attemptsJSON.Valid && attemptsJSON.String != "" && attemptsJSON.String != "null" {
		if err := json.Unmarshal([]byte(attemptsJSON.String), &rec.Attempts); err != nil {
			return rec, fmt.Errorf("failed to parse attempts: %w", err)
		}
	}
	return rec, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SQLite returns timestamps in different layouts depending on how the
// column was written; more specific layouts come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp returns the zero time when no layout matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
