package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Journal is an append-only SQLite record of runs and unit phases.
type Journal struct {
	db   *sql.DB
	path string
}

// Config holds journal configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a journal for cfg. Init and Migrate must be called before use.
func New(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Journal{path: cfg.Path}, nil
}

// Open creates, initializes and migrates a journal.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	j, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := j.init(ctx, cfg); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Init opens the database connection.
func (j *Journal) Init(ctx context.Context) error {
	return j.init(ctx, Config{Path: j.path})
}

func (j *Journal) init(ctx context.Context, cfg Config) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", j.path)
	if j.path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: gets its own database.
	if j.path == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	}
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else if j.path != MemoryPath {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	j.db = db
	return nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate brings the schema up to date.
func (j *Journal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return j.db.PingContext(ctx)
}

// StartRun records a new running run for engineID and returns it.
func (j *Journal) StartRun(ctx context.Context, engineID, command string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		EngineID:  engineID,
		Command:   command,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO runs (id, engine_id, command, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := j.db.ExecContext(ctx, query, run.ID, run.EngineID, run.Command, run.Status, run.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run as completed with status. runErr, if not nil, is stored
// as the run error.
func (j *Journal) FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error {
	if err := status.Validate(); err != nil {
		return err
	}
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finish run %s with status %s", id, status)
	}

	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := j.db.ExecContext(ctx, query, status, errorText(runErr), time.Now().UTC(), id, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s is not running: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, engine_id, command, status, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(j.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first.
func (j *Journal) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, engine_id, command, status, started_at, completed_at, error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RecordUnitEvent appends ev and fills in its ID and creation time.
func (j *Journal) RecordUnitEvent(ctx context.Context, ev *UnitEvent) error {
	if err := ev.Phase.Validate(); err != nil {
		return err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO unit_events (run_id, engine_id, unit, path, phase, outcome, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := j.db.ExecContext(ctx, query,
		ev.RunID,
		ev.EngineID,
		ev.Unit,
		ev.Path,
		ev.Phase,
		ev.Outcome,
		ev.DurationMS,
		ev.Error,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record unit event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}
	ev.ID = id
	return nil
}

// ListUnitEvents returns the events of a run in the order they were recorded.
func (j *Journal) ListUnitEvents(ctx context.Context, runID string) ([]*UnitEvent, error) {
	query := `
		SELECT id, run_id, engine_id, unit, path, phase, outcome, duration_ms, error, created_at
		FROM unit_events
		WHERE run_id = ?
		ORDER BY id
	`
	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit events: %w", err)
	}
	defer rows.Close()

	events := []*UnitEvent{}
	for rows.Next() {
		ev := &UnitEvent{}
		var errText sql.NullString
		err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.EngineID,
			&ev.Unit,
			&ev.Path,
			&ev.Phase,
			&ev.Outcome,
			&ev.DurationMS,
			&errText,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit event: %w", err)
		}
		if errText.Valid {
			ev.Error = &errText.String
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	var errText sql.NullString
	err := row.Scan(
		&run.ID,
		&run.EngineID,
		&run.Command,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&errText,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errText.Valid {
		run.Error = &errText.String
	}
	return run, nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
