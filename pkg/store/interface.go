package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/parbench/pkg/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Store is the job table. Records handed in and out are copies: callers
// never share memory with the stored record.
type Store interface {
	// CreateJob registers a new job. Ids are single-use.
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	GetAllJobs() []*models.Job
	GetJobsInState(state models.JobStatus) ([]*models.Job, error)

	// ReplaceJob atomically swaps the stored record for job. The status
	// change must be a legal FSM transition.
	ReplaceJob(job *models.Job) error
	DeleteJob(id string) error

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectAttempts bounds the start-up ping; 0 uses the retry default
	ConnectAttempts int

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "parbench.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

var (
	ErrUnsupportedDatabase = NewError("unsupported database type")
)

// NewError creates a new error with message
func NewError(message string) error {
	return &storeError{message: message}
}

type storeError struct {
	message string
}

func (e *storeError) Error() string {
	return e.message
}

// checkReplace validates that next may replace cur
func checkReplace(cur, next *models.Job) error {
	if cur.Status == next.Status && models.IsTerminalState(cur.Status) {
		return fmt.Errorf("job %s is already %s", cur.ID, cur.Status)
	}
	if err := models.ValidateTransition(cur.Status, next.Status); err != nil {
		return fmt.Errorf("job %s: %w", cur.ID, err)
	}
	return nil
}
