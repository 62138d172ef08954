package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"studenthome_ingest/models"
)

// SQLiteStore keeps the local operations ledger: runs, run logs and the
// command queue polled in daemon mode.
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
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		provider TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		processed INTEGER DEFAULT 0,
		imported INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		metadata JSON
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		provider TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO runs (kind, provider, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.Kind, run.Provider, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, processed = ?, imported = ?,
			skipped = ?, failed = ?, metadata = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Processed, run.Imported, run.Skipped, run.Failed,
		nullJSON(run.Metadata), run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(limit int) ([]models.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, COALESCE(provider, ''), started_at, finished_at, status,
			processed, imported, skipped, failed, metadata
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var metadata sql.NullString
		if err := rows.Scan(&run.ID, &run.Kind, &run.Provider, &run.StartedAt, &run.FinishedAt,
			&run.Status, &run.Processed, &run.Imported, &run.Skipped, &run.Failed, &metadata); err != nil {
			return nil, err
		}
		if metadata.Valid {
			run.Metadata = json.RawMessage(metadata.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetLastRunTime(kind models.RunKind) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`
		SELECT started_at FROM runs WHERE kind = ?
		ORDER BY started_at DESC LIMIT 1`, kind).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return t, err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, provider string) error {
	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, timestamp, level, message, provider)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, provider)
	return err
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, nullJSON(raw))
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func nullJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
