// Package history keeps a SQLite record of channel status transitions and
// calibration results so faults can be reviewed after the fact.
package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// Store handles SQLite persistence. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Transition is one change of a channel's status.
type Transition struct {
	ID       int64
	Session  string
	Channel  int
	At       time.Time
	From     monitor.Status
	To       monitor.Status
	Printing bool
	Detail   string // diagnostics at the time of the change
}

// Calibration is the result of a finished calibration run.
type Calibration struct {
	ID          int64
	Session     string
	Channel     int
	At          time.Time
	LengthMm    float64
	AvgPercent  float64
	MinPercent  float64
	MaxPercent  float64
	Sensitivity float64
}

// Open creates a Store with the given database path, creating tables if they
// don't exist. File databases use WAL mode.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		channel INTEGER NOT NULL,
		at_ms INTEGER NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		printing INTEGER NOT NULL DEFAULT 0,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_transitions_channel ON transitions(channel, at_ms DESC);

	CREATE TABLE IF NOT EXISTS calibrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		channel INTEGER NOT NULL,
		at_ms INTEGER NOT NULL,
		length_mm REAL NOT NULL,
		avg_percent REAL NOT NULL,
		min_percent REAL NOT NULL,
		max_percent REAL NOT NULL,
		sensitivity REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calibrations_channel ON calibrations(channel, at_ms DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// RecordTransition stores tr and returns its id.
func (s *Store) RecordTransition(tr Transition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO transitions (session, channel, at_ms, from_status, to_status, printing, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.Session, tr.Channel, tr.At.UnixMilli(), tr.From.String(), tr.To.String(),
		boolToInt(tr.Printing), tr.Detail)
	if err != nil {
		return 0, fmt.Errorf("insert transition: %w", err)
	}
	return res.LastInsertId()
}

// RecordCalibration stores c and returns its id.
func (s *Store) RecordCalibration(c Calibration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO calibrations (session, channel, at_ms, length_mm, avg_percent, min_percent, max_percent, sensitivity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Session, c.Channel, c.At.UnixMilli(), c.LengthMm, c.AvgPercent, c.MinPercent, c.MaxPercent, c.Sensitivity)
	if err != nil {
		return 0, fmt.Errorf("insert calibration: %w", err)
	}
	return res.LastInsertId()
}

// RecentTransitions returns up to limit transitions, newest first. A negative
// channel selects all channels.
func (s *Store) RecentTransitions(channel, limit int) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, session, channel, at_ms, from_status, to_status, printing, detail
		FROM transitions`
	var args []any
	if channel >= 0 {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY at_ms DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			tr       Transition
			atMs     int64
			from, to string
			printing int
			detail   sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.Session, &tr.Channel, &atMs, &from, &to, &printing, &detail); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if err := tr.From.UnmarshalText([]byte(from)); err != nil {
			return nil, fmt.Errorf("transition %d: %w", tr.ID, err)
		}
		if err := tr.To.UnmarshalText([]byte(to)); err != nil {
			return nil, fmt.Errorf("transition %d: %w", tr.ID, err)
		}
		tr.At = time.UnixMilli(atMs).UTC()
		tr.Printing = printing != 0
		tr.Detail = detail.String
		out = append(out, tr)
	}
	return out, rows.Err()
}

// LatestCalibration returns the newest calibration for channel. ok is false
// if the channel has never finished calibrating.
func (s *Store) LatestCalibration(channel int) (c Calibration, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var atMs int64
	err = s.db.QueryRow(`
		SELECT id, session, channel, at_ms, length_mm, avg_percent, min_percent, max_percent, sensitivity
		FROM calibrations WHERE channel = ? ORDER BY at_ms DESC, id DESC LIMIT 1`, channel).
		Scan(&c.ID, &c.Session, &c.Channel, &atMs, &c.LengthMm, &c.AvgPercent, &c.MinPercent, &c.MaxPercent, &c.Sensitivity)
	if err == sql.ErrNoRows {
		return Calibration{}, false, nil
	}
	if err != nil {
		return Calibration{}, false, fmt.Errorf("query calibration: %w", err)
	}
	c.At = time.UnixMilli(atMs).UTC()
	return c, true, nil
}

// FaultCounts returns, per channel, how many transitions led into a fault.
func (s *Store) FaultCounts() (map[int]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT channel, to_status, COUNT(*) FROM transitions GROUP BY channel, to_status`)
	if err != nil {
		return nil, fmt.Errorf("query fault counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var (
			ch, n int
			name  string
			st    monitor.Status
		)
		if err := rows.Scan(&ch, &name, &n); err != nil {
			return nil, fmt.Errorf("scan fault count: %w", err)
		}
		if st.UnmarshalText([]byte(name)) == nil && st.IsFault() {
			counts[ch] += n
		}
	}
	return counts, rows.Err()
}

// Prune deletes records older than before and returns how many went.
func (s *Store) Prune(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, table := range []string{"transitions", "calibrations"} {
		res, err := s.db.Exec("DELETE FROM "+table+" WHERE at_ms < ?", before.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
