package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"auctionwatch/models"
)

// SQLiteStore holds operational data: pending commands from operator
// tooling, monitor run history, and run logs.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS monitor_runs (
		id INTEGER PRIMARY KEY,
		task TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_seen INTEGER DEFAULT 0,
		events_emitted INTEGER DEFAULT 0,
		requests_matched INTEGER DEFAULT 0,
		notifications_created INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS monitor_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		task TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_runs_task ON monitor_runs(task, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON monitor_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params []byte) error {
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, params)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, '{}'), created_at
		FROM commands WHERE processed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Command
	for rows.Next() {
		var c models.Command
		if err := rows.Scan(&c.ID, &c.Command, &c.Params, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// =============================================================================
// Runs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.MonitorRun) error {
	res, err := s.db.Exec(`
		INSERT INTO monitor_runs (task, started_at, status) VALUES (?, ?, ?)`,
		run.Task, run.StartedAt, run.Status)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateRun(run *models.MonitorRun) error {
	_, err := s.db.Exec(`
		UPDATE monitor_runs
		SET finished_at = ?, status = ?, listings_seen = ?, events_emitted = ?,
			requests_matched = ?, notifications_created = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsSeen, run.EventsEmitted,
		run.RequestsMatched, run.NotificationsCreated, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) GetRecentRuns(task string, limit int) ([]models.MonitorRun, error) {
	rows, err := s.db.Query(`
		SELECT id, task, started_at, finished_at, status, listings_seen, events_emitted,
			requests_matched, notifications_created, errors_count
		FROM monitor_runs WHERE task = ? ORDER BY started_at DESC LIMIT ?`, task, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MonitorRun
	for rows.Next() {
		var r models.MonitorRun
		err := rows.Scan(&r.ID, &r.Task, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.ListingsSeen, &r.EventsEmitted, &r.RequestsMatched, &r.NotificationsCreated, &r.ErrorsCount)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) AddLog(runID *int64, level models.LogLevel, task, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO monitor_logs (run_id, timestamp, level, message, task)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, task)
	return err
}
