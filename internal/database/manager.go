package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "livegrade/pkg/database"
	"livegrade/pkg/types"
)

// Manager implements the AssessmentDirectory interface on SQLite.
// All writes funnel through a single goroutine to avoid SQLite write
// contention; reads go straight to the pool (WAL mode).
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and
// starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := dbconfig.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
// Failed writes are retried once after a short delay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	op := writeOperation{
		operation: operation,
		result:    make(chan error, 1),
	}

	select {
	case m.writeChannel <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}

	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateAssessment stores a new assessment record. The generated row
// id is written back to the record.
func (m *Manager) CreateAssessment(ctx context.Context, assessment *types.Assessment) error {
	if err := assessment.Validate(); err != nil {
		return fmt.Errorf("invalid assessment: %w", err)
	}

	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = time.Now()
	}
	if assessment.Status == "" {
		assessment.Status = "active"
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.Exec(
			`INSERT INTO assessments (owner_id, title, status, created_at) VALUES (?, ?, ?, ?)`,
			assessment.OwnerID, assessment.Title, assessment.Status, assessment.CreatedAt,
		)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		assessment.ID = id
		return nil
	})
}

// GetAssessment returns the record for an assessment.
func (m *Manager) GetAssessment(ctx context.Context, assessmentID int64) (*types.Assessment, error) {
	var assessment types.Assessment
	err := m.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, status, created_at FROM assessments WHERE id = ?`,
		assessmentID,
	).Scan(&assessment.ID, &assessment.OwnerID, &assessment.Title, &assessment.Status, &assessment.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: assessment %d", types.ErrNotFound, assessmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment %d: %w", assessmentID, err)
	}
	return &assessment, nil
}

// StoreTaskUpdate appends one update to the history.
func (m *Manager) StoreTaskUpdate(ctx context.Context, update *types.TaskUpdate) error {
	payload := update.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO task_updates (id, assessment_id, task_id, sequence, payload, emitted_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			update.ID, update.AssessmentID, update.TaskID, update.SequenceNumber,
			string(payload), update.EmittedAt,
		)
		return err
	})
}

// MaxSequence returns the highest stored sequence number for an
// assessment, zero when no updates exist.
func (m *Manager) MaxSequence(ctx context.Context, assessmentID int64) (uint64, error) {
	var max sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM task_updates WHERE assessment_id = ?`,
		assessmentID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max sequence for assessment %d: %w", assessmentID, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

// LatestTaskStatuses returns the most recent update per task for an
// assessment, ordered by task id.
func (m *Manager) LatestTaskStatuses(ctx context.Context, assessmentID int64) ([]types.TaskStatus, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT u.task_id, u.payload, u.emitted_at
		FROM task_updates u
		INNER JOIN (
			SELECT task_id, MAX(sequence) AS max_seq
			FROM task_updates
			WHERE assessment_id = ?
			GROUP BY task_id
		) latest ON u.task_id = latest.task_id AND u.sequence = latest.max_seq
		WHERE u.assessment_id = ?
		ORDER BY u.task_id`,
		assessmentID, assessmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read task statuses for assessment %d: %w", assessmentID, err)
	}
	defer rows.Close()

	var statuses []types.TaskStatus
	for rows.Next() {
		var status types.TaskStatus
		var payload string
		if err := rows.Scan(&status.TaskID, &payload, &status.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task status: %w", err)
		}
		status.Payload = []byte(payload)
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

// HealthCheck verifies the database is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close shuts down the writer goroutine and the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
