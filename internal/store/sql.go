package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/linkscout/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	site_key TEXT PRIMARY KEY,
	site TEXT NOT NULL,
	session_id TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	records_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	site_key TEXT NOT NULL,
	site TEXT NOT NULL,
	start_url TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	termination TEXT NOT NULL,
	visited INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	pending INTEGER NOT NULL DEFAULT 0,
	discovered INTEGER NOT NULL DEFAULT 0,
	output_path TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_site ON sessions(site_key);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999",
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimestamp returns the zero time if s matches no known format.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// sqlStore implements Store over database/sql for SQLite and Postgres.
type sqlStore struct {
	db *sql.DB

	// dollar selects $1-style placeholders.
	dollar bool
}

func (s *sqlStore) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders for drivers that need $n.
func (s *sqlStore) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// SaveCheckpoint upserts the checkpoint row of cp.Site.
func (s *sqlStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.Site == "" {
		return ErrEmptySite
	}
	records, err := json.Marshal(cp.Records)
	if err != nil {
		return fmt.Errorf("failed to serialize records: %w", err)
	}
	savedAt := cp.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	query := s.rebind(`
	INSERT INTO checkpoints (site_key, site, session_id, saved_at, records_json)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (site_key) DO UPDATE SET
		site = excluded.site,
		session_id = excluded.session_id,
		saved_at = excluded.saved_at,
		records_json = excluded.records_json
	`)
	if _, err := s.db.ExecContext(ctx, query,
		SiteKey(cp.Site), cp.Site, cp.SessionID, formatTimestamp(savedAt), string(records),
	); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint row of site.
func (s *sqlStore) LoadCheckpoint(ctx context.Context, site string) (*model.Checkpoint, error) {
	query := s.rebind(`
	SELECT site, session_id, saved_at, records_json FROM checkpoints
	WHERE site_key = ?
	`)

	var (
		cp      model.Checkpoint
		savedAt string
		records string
	)
	err := s.db.QueryRowContext(ctx, query, SiteKey(site)).Scan(&cp.Site, &cp.SessionID, &savedAt, &records)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(records), &cp.Records); err != nil {
		return nil, fmt.Errorf("failed to deserialize records: %w", err)
	}
	cp.SavedAt = parseTimestamp(savedAt)
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint row of site.
func (s *sqlStore) DeleteCheckpoint(ctx context.Context, site string) error {
	query := s.rebind(`DELETE FROM checkpoints WHERE site_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, SiteKey(site)); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// SaveSession upserts a session row.
func (s *sqlStore) SaveSession(ctx context.Context, summary *model.CrawlSummary) error {
	query := s.rebind(`
	INSERT INTO sessions (id, site_key, site, start_url, started_at, finished_at, termination,
		visited, failed, pending, discovered, output_path, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		finished_at = excluded.finished_at,
		termination = excluded.termination,
		visited = excluded.visited,
		failed = excluded.failed,
		pending = excluded.pending,
		discovered = excluded.discovered,
		output_path = excluded.output_path,
		error_message = excluded.error_message
	`)
	_, err := s.db.ExecContext(ctx, query,
		summary.SessionID,
		SiteKey(summary.Site),
		summary.Site,
		summary.StartURL,
		formatTimestamp(summary.StartedAt),
		formatTimestamp(summary.FinishedAt),
		string(summary.Termination),
		summary.Visited,
		summary.Failed,
		summary.Pending,
		summary.Discovered,
		summary.OutputPath,
		summary.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListSessions returns session rows newest first.
func (s *sqlStore) ListSessions(ctx context.Context, site string, limit int) ([]model.CrawlSummary, error) {
	query := `
	SELECT id, site, start_url, started_at, finished_at, termination,
		visited, failed, pending, discovered, output_path, error_message
	FROM sessions`
	var args []any
	if site != "" {
		query += ` WHERE site_key = ?`
		args = append(args, SiteKey(site))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var results []model.CrawlSummary
	for rows.Next() {
		var (
			sum         model.CrawlSummary
			started     string
			finished    string
			termination string
		)
		if err := rows.Scan(
			&sum.SessionID, &sum.Site, &sum.StartURL, &started, &finished, &termination,
			&sum.Visited, &sum.Failed, &sum.Pending, &sum.Discovered, &sum.OutputPath, &sum.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.StartedAt = parseTimestamp(started)
		sum.FinishedAt = parseTimestamp(finished)
		sum.Termination = model.Termination(termination)
		results = append(results, sum)
	}
	return results, rows.Err()
}
