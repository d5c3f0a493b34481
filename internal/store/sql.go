package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name      string
	Driver    string
	Schema    string
	numbered  bool // $1 placeholders instead of ?
	singleCon bool
}

var (
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		Schema: `
CREATE TABLE IF NOT EXISTS logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  anomaly_type TEXT NOT NULL DEFAULT '',
  severity TEXT NOT NULL DEFAULT '',
  ingested_at INTEGER NOT NULL,
  record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_ingested_at ON logs(ingested_at);
`,
		singleCon: true,
	}

	Postgres = Dialect{
		Name:   "postgres",
		Driver: "postgres",
		Schema: `
CREATE TABLE IF NOT EXISTS logs (
  id BIGSERIAL PRIMARY KEY,
  anomaly_type TEXT NOT NULL DEFAULT '',
  severity TEXT NOT NULL DEFAULT '',
  ingested_at BIGINT NOT NULL,
  record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_ingested_at ON logs(ingested_at);
`,
		numbered: true,
	}
)

// bind rewrites ? placeholders for dialects that number them.
func (d Dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Options configures retention and the clock of a store.
type Options struct {
	// Retention drops records ingested longer ago than this. Zero keeps forever.
	Retention time.Duration
	// MaxRecords keeps at most this many records. Zero is unbounded.
	MaxRecords int64
	Now        func() time.Time
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, d Dialect, opts Options) *SQLStore {
	return &SQLStore{db: db, dialect: d, opts: opts}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return openSQL(ctx, SQLite, path, opts)
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	return openSQL(ctx, Postgres, dsn, opts)
}

func openSQL(ctx context.Context, d Dialect, dsn string, opts Options) (*SQLStore, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.singleCon {
		db.SetMaxOpenConns(1)
	}
	s := NewSQLStore(db, d, opts)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return Unavailable("migrate", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Append(ctx context.Context, recs []model.LogRecord) ([]model.StoredLogRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	bodies := make([][]byte, len(recs))
	for i, rec := range recs {
		b, err := EncodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		bodies[i] = b
	}

	now := s.opts.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Unavailable("append", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insert := s.dialect.bind(`INSERT INTO logs (anomaly_type, severity, ingested_at, record) VALUES (?, ?, ?, ?) RETURNING id`)
	out := make([]model.StoredLogRecord, len(recs))
	for i, rec := range recs {
		var id int64
		if err := tx.QueryRowContext(ctx, insert, rec.AnomalyType, rec.Severity, now.UnixNano(), string(bodies[i])).Scan(&id); err != nil {
			return nil, Unavailable("append", err)
		}
		out[i] = model.StoredLogRecord{ID: uint64(id), LogRecord: rec, IngestedAt: now}
	}

	if err := tx.Commit(); err != nil {
		return nil, Unavailable("append", err)
	}
	return out, nil
}

func (s *SQLStore) QueryRecent(ctx context.Context, limit int) ([]model.StoredLogRecord, error) {
	limit = ClampLimit(limit)
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`SELECT id, ingested_at, record FROM logs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, Unavailable("query recent", err)
	}
	defer rows.Close()
	return scanRecords(rows, nil, limit)
}

// Search streams rows newest first and filters them in process, so any
// Matcher works regardless of dialect.
func (s *SQLStore) Search(ctx context.Context, match Matcher, limit int) ([]model.StoredLogRecord, error) {
	limit = ClampLimit(limit)
	if match == nil {
		return s.QueryRecent(ctx, limit)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, ingested_at, record FROM logs ORDER BY id DESC`)
	if err != nil {
		return nil, Unavailable("search", err)
	}
	defer rows.Close()
	return scanRecords(rows, match, limit)
}

func scanRecords(rows *sql.Rows, match Matcher, limit int) ([]model.StoredLogRecord, error) {
	out := make([]model.StoredLogRecord, 0)
	for rows.Next() {
		var (
			id   int64
			ts   int64
			body string
		)
		if err := rows.Scan(&id, &ts, &body); err != nil {
			return nil, Unavailable("scan", err)
		}
		rec, err := DecodeRecord([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", id, err)
		}
		stored := model.StoredLogRecord{ID: uint64(id), LogRecord: rec, IngestedAt: time.Unix(0, ts).UTC()}
		if match != nil && !match(stored) {
			continue
		}
		out = append(out, stored)
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("scan", err)
	}
	return out, nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT anomaly_type, severity, COUNT(*) FROM logs GROUP BY anomaly_type, severity`)
	if err != nil {
		return Stats{}, Unavailable("stats", err)
	}
	defer rows.Close()

	st := NewStats()
	for rows.Next() {
		var (
			typ, sev string
			n        int64
		)
		if err := rows.Scan(&typ, &sev, &n); err != nil {
			return Stats{}, Unavailable("stats", err)
		}
		st.Total += n
		st.ByType[typ] += n
		st.BySeverity[sev] += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, Unavailable("stats", err)
	}
	return st, nil
}

func (s *SQLStore) ScanRange(ctx context.Context, start, end time.Time) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.bind(`SELECT ingested_at, anomaly_type FROM logs WHERE ingested_at >= ? AND ingested_at <= ? ORDER BY id`),
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, Unavailable("scan range", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			ts  int64
			typ string
		)
		if err := rows.Scan(&ts, &typ); err != nil {
			return nil, Unavailable("scan range", err)
		}
		out = append(out, Sample{IngestedAt: time.Unix(0, ts).UTC(), AnomalyType: typ})
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("scan range", err)
	}
	return out, nil
}

// Prune applies the retention bounds once and returns the number of rows removed.
func (s *SQLStore) Prune(ctx context.Context) (int64, error) {
	var removed int64

	if s.opts.Retention > 0 {
		cutoff := s.opts.now().Add(-s.opts.Retention).UnixNano()
		res, err := s.db.ExecContext(ctx, s.dialect.bind(`DELETE FROM logs WHERE ingested_at < ?`), cutoff)
		if err != nil {
			return removed, Unavailable("prune", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if s.opts.MaxRecords > 0 {
		res, err := s.db.ExecContext(ctx,
			s.dialect.bind(`DELETE FROM logs WHERE id < (SELECT id FROM logs ORDER BY id DESC LIMIT 1 OFFSET ?)`),
			s.opts.MaxRecords-1)
		if err != nil {
			return removed, Unavailable("prune", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	return removed, nil
}

// RunCleaner prunes on every tick until ctx is done.
func (s *SQLStore) RunCleaner(ctx context.Context, interval time.Duration) {
	if s.opts.Retention <= 0 && s.opts.MaxRecords <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("cleaner started", "backend", s.dialect.Name, "retention", s.opts.Retention, "max_records", s.opts.MaxRecords)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				slog.Warn("cleaner failed", "backend", s.dialect.Name, "err", err)
				continue
			}
			if n > 0 {
				slog.Info("expired records deleted", "backend", s.dialect.Name, "count", n)
			}
		}
	}
}

var _ Store = (*SQLStore)(nil)
