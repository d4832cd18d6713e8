package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a report id is not in the ledger.
var ErrNotFound = errors.New("report not found")

// Store wraps SQLite access for the submission ledger.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			user_id INTEGER,
			chat_id INTEGER,
			category TEXT,
			description TEXT,
			latitude REAL,
			longitude REAL,
			photo_ref TEXT,
			reported_at TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);`,
		`CREATE TABLE IF NOT EXISTS sink_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_id TEXT,
			sink TEXT,
			ok INTEGER,
			detail TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sink_results_report ON sink_results(report_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Report is a finalized submission as kept in the ledger.
type Report struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	ChatID      int64     `json:"chat_id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	PhotoRef    string    `json:"photo_ref"`
	ReportedAt  string    `json:"reported_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// SinkResult is the outcome of one sink for one report.
type SinkResult struct {
	ReportID  string    `json:"report_id"`
	Sink      string    `json:"sink"`
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) RecordReport(ctx context.Context, r Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO reports(id, user_id, chat_id, category, description, latitude, longitude, photo_ref, reported_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET photo_ref=excluded.photo_ref, description=excluded.description`,
		r.ID, r.UserID, r.ChatID, r.Category, r.Description, r.Latitude, r.Longitude, r.PhotoRef, r.ReportedAt, r.CreatedAt.UTC())
	return err
}

// RecordSinkResult stores the outcome of a sink call; a nil err is a success.
func (s *Store) RecordSinkResult(ctx context.Context, reportID, sink string, sinkErr error, ts time.Time) error {
	ok := 1
	detail := ""
	if sinkErr != nil {
		ok = 0
		detail = sinkErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sink_results(report_id, sink, ok, detail, created_at) VALUES(?,?,?,?,?)`,
		reportID, sink, ok, detail, ts.UTC())
	return err
}

const reportColumns = `id, user_id, chat_id, category, description, latitude, longitude, photo_ref, reported_at, created_at`

func scanReport(sc interface{ Scan(...any) error }) (Report, error) {
	var r Report
	var photo, reportedAt sql.NullString
	err := sc.Scan(&r.ID, &r.UserID, &r.ChatID, &r.Category, &r.Description, &r.Latitude, &r.Longitude, &photo, &reportedAt, &r.CreatedAt)
	r.PhotoRef = photo.String
	r.ReportedAt = reportedAt.String
	return r, err
}

// GetReport returns a single report by id.
func (s *Store) GetReport(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
	r, err := scanReport(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Report{}, ErrNotFound
	case err != nil:
		return Report{}, err
	}
	return r, nil
}

// ListReports returns the most recent reports first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SinkResults lists the recorded sink outcomes for a report in insertion order.
func (s *Store) SinkResults(ctx context.Context, reportID string) ([]SinkResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT report_id, sink, ok, detail, created_at FROM sink_results WHERE report_id=? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SinkResult
	for rows.Next() {
		var r SinkResult
		var ok int
		var detail sql.NullString
		if err := rows.Scan(&r.ReportID, &r.Sink, &ok, &detail, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.OK = ok == 1
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailureCounts returns the number of failed results per sink.
func (s *Store) FailureCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sink, COUNT(*) FROM sink_results WHERE ok=0 GROUP BY sink`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var sink string
		var n int64
		if err := rows.Scan(&sink, &n); err != nil {
			return nil, err
		}
		out[sink] = n
	}
	return out, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
