//go:build !mips64 && !mips64le && !ppc64 && !s390x

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS fetches (
    id TEXT PRIMARY KEY,
    ts_start INTEGER NOT NULL,
    ts_end INTEGER,
    status TEXT NOT NULL DEFAULT 'in_flight',
    controller TEXT NOT NULL,
    metric TEXT NOT NULL,
    query_key TEXT,
    token INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    error_class TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_fetches_ts_start ON fetches(ts_start);
CREATE INDEX IF NOT EXISTS idx_fetches_metric_ts ON fetches(metric, controller, ts_start);
CREATE INDEX IF NOT EXISTS idx_fetches_status_ts ON fetches(status, ts_start);
`

const selectColumns = `id, ts_start, ts_end, status, controller, metric, query_key, token, duration_ms, error_class, error`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	maxRows int
	pruneMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. MemoryDSN keeps
// it in memory; file databases run in WAL mode.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := MemoryDSN
	if path != MemoryDSN && path != "" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// A single connection also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, maxRows: maxRows, logger: logger}, nil
}

// Insert creates a new record.
func (s *SQLiteStore) Insert(f *Fetch) error {
	_, err := s.db.Exec(`
		INSERT INTO fetches (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.TSStart, f.TSEnd, string(f.Status), f.Controller, f.Metric, f.Key,
		int64(f.Token), f.DurationMs, f.ErrorClass, f.Error,
	)
	if err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}

	s.maybePrune()
	return nil
}

// Update modifies an existing record.
func (s *SQLiteStore) Update(id string, upd FetchUpdate) error {
	var sets []string
	var args []any

	if upd.TSEnd != nil {
		sets = append(sets, "ts_end = ?")
		args = append(args, *upd.TSEnd)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *upd.DurationMs)
	}
	if upd.ErrorClass != nil {
		sets = append(sets, "error_class = ?")
		args = append(args, *upd.ErrorClass)
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	if _, err := s.db.Exec("UPDATE fetches SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		return fmt.Errorf("update fetch: %w", err)
	}
	return nil
}

// GetByID retrieves a single record, or nil when absent.
func (s *SQLiteStore) GetByID(id string) (*Fetch, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM fetches WHERE id = ?`, id)
	f, err := scanFetch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fetch: %w", err)
	}
	return f, nil
}

// List retrieves records with filtering, newest first.
func (s *SQLiteStore) List(opts ListOptions) ([]Fetch, error) {
	query := `SELECT ` + selectColumns + ` FROM fetches WHERE 1=1`
	var args []any

	if opts.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*opts.Status))
	}
	if opts.Controller != "" {
		query += " AND controller = ?"
		args = append(args, opts.Controller)
	}
	if opts.Metric != "" {
		query += " AND metric = ?"
		args = append(args, opts.Metric)
	}
	if opts.Window > 0 {
		query += " AND ts_start >= ?"
		args = append(args, time.Now().UnixMilli()-opts.Window.Milliseconds())
	}

	// rowid breaks ties between fetches issued in the same millisecond.
	query += " ORDER BY ts_start DESC, rowid DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fetches: %w", err)
	}
	defer rows.Close()

	var out []Fetch
	for rows.Next() {
		f, err := scanFetch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Overview returns aggregate statistics.
func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'applied' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'stale' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_flight' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN status != 'in_flight' THEN duration_ms END), 0),
			COALESCE(SUM(CASE WHEN error_class = 'transport' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_class = 'malformed' THEN 1 ELSE 0 END), 0)
		FROM fetches
		WHERE ts_start >= ?
	`, cutoff)

	var o Overview
	var avgDur float64
	if err := row.Scan(&o.TotalFetches, &o.AppliedCount, &o.FailedCount, &o.StaleCount,
		&o.InFlightCount, &avgDur, &o.TransportErrors, &o.MalformedErrors); err != nil {
		return nil, fmt.Errorf("overview query: %w", err)
	}
	o.AvgDurationMs = int(avgDur)
	if o.TotalFetches > 0 {
		o.AppliedRate = float64(o.AppliedCount) / float64(o.TotalFetches)
	}

	durations, err := s.durations(`ts_start >= ? AND status != 'in_flight'`, cutoff)
	if err != nil {
		return nil, err
	}
	o.P95DurationMs = percentile95(durations)
	return &o, nil
}

// MetricStats returns per metric and controller rollups.
func (s *SQLiteStore) MetricStats(window time.Duration) ([]MetricStat, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	rows, err := s.db.Query(`
		SELECT
			metric,
			controller,
			COUNT(*) AS fetch_count,
			AVG(CASE WHEN status = 'applied' THEN 1.0 ELSE 0.0 END),
			AVG(CASE WHEN status = 'stale' THEN 1.0 ELSE 0.0 END)
		FROM fetches
		WHERE ts_start >= ?
		GROUP BY metric, controller
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("metric stats query: %w", err)
	}
	var stats []MetricStat
	for rows.Next() {
		var ms MetricStat
		if err := rows.Scan(&ms.Metric, &ms.Controller, &ms.FetchCount, &ms.AppliedRate, &ms.StaleRate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan metric stat: %w", err)
		}
		stats = append(stats, ms)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stats {
		d, err := s.durations(`ts_start >= ? AND status != 'in_flight' AND metric = ? AND controller = ?`,
			cutoff, stats[i].Metric, stats[i].Controller)
		if err != nil {
			return nil, err
		}
		stats[i].DurationP95Ms = percentile95(d)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].FetchCount != stats[j].FetchCount {
			return stats[i].FetchCount > stats[j].FetchCount
		}
		if stats[i].Metric != stats[j].Metric {
			return stats[i].Metric < stats[j].Metric
		}
		return stats[i].Controller < stats[j].Controller
	})
	return stats, nil
}

// Series returns time-binned data for charts.
func (s *SQLiteStore) Series(opts SeriesOptions) ([]DataPoint, error) {
	points, cutoff, interval := newBins(opts.Window, time.Now())

	query := `SELECT ` + selectColumns + ` FROM fetches WHERE ts_start >= ?`
	args := []any{cutoff.UnixMilli()}
	if opts.Controller != "" {
		query += " AND controller = ?"
		args = append(args, opts.Controller)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("series query: %w", err)
	}
	defer rows.Close()

	binValues := make([][]float64, len(points))
	for rows.Next() {
		f, err := scanFetch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		v, ok := seriesValue(opts.Metric, *f)
		if !ok {
			continue
		}
		binIdx := int((f.TSStart - cutoff.UnixMilli()) / interval.Milliseconds())
		if binIdx >= 0 && binIdx < len(points) {
			binValues[binIdx] = append(binValues[binIdx], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aggregateBins(opts.Metric, points, binValues)
	return points, nil
}

// InFlightCount returns the number of unsettled fetches.
func (s *SQLiteStore) InFlightCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fetches WHERE status = 'in_flight'`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) durations(where string, args ...any) ([]float64, error) {
	rows, err := s.db.Query(`SELECT duration_ms FROM fetches WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("duration query: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, float64(d))
	}
	return out, rows.Err()
}

// maybePrune deletes the oldest rows once the table exceeds maxRows.
func (s *SQLiteStore) maybePrune() {
	if s.maxRows <= 0 {
		return
	}
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fetches`).Scan(&count); err != nil {
		s.logger.Error("prune count query failed", "err", err)
		return
	}
	if count <= s.maxRows {
		return
	}

	toDelete := count - s.maxRows
	const batchSize = 500
	if toDelete > batchSize {
		toDelete = batchSize
	}
	_, err := s.db.Exec(`
		DELETE FROM fetches WHERE id IN (
			SELECT id FROM fetches ORDER BY ts_start ASC, rowid ASC LIMIT ?
		)
	`, toDelete)
	if err != nil {
		s.logger.Error("prune failed", "err", err)
	} else {
		s.logger.Debug("pruned old fetches", "deleted", toDelete)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFetch(row rowScanner) (*Fetch, error) {
	var f Fetch
	var tsEnd sql.NullInt64
	var key, errorClass, errText sql.NullString
	var status string
	var token int64

	if err := row.Scan(&f.ID, &f.TSStart, &tsEnd, &status, &f.Controller, &f.Metric,
		&key, &token, &f.DurationMs, &errorClass, &errText); err != nil {
		return nil, err
	}
	if tsEnd.Valid {
		f.TSEnd = &tsEnd.Int64
	}
	f.Status = Status(status)
	f.Key = key.String
	f.Token = uint64(token)
	f.ErrorClass = errorClass.String
	f.Error = errText.String
	return &f, nil
}
