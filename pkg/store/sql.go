package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/parbench/pkg/models"
)

// sqlJobs holds the job-table logic shared by the SQLite and PostgreSQL
// stores. Each row keeps the whole record as a JSON document so that a
// replacement is a single UPDATE.
type sqlJobs struct {
	db *sql.DB

	// placeholders rewrites '?' markers for the driver
	placeholders func(string) string
	// lockClause is appended to the SELECT inside ReplaceJob
	lockClause string
}

func (s *sqlJobs) q(query string) string {
	if s.placeholders == nil {
		return query
	}
	return s.placeholders(query)
}

// dollarPlaceholders converts '?' markers into $1, $2, ...
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlJobs) CreateJob(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	res, err := s.db.Exec(s.q(`
		INSERT INTO jobs (id, status, feature, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), job.ID, string(job.Status), job.Feature, job.CreatedAt.UTC(), time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobExists
	}
	return nil
}

func (s *sqlJobs) GetJob(id string) (*models.Job, error) {
	var data string
	err := s.db.QueryRow(s.q(`SELECT data FROM jobs WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return decodeJob(data)
}

func (s *sqlJobs) GetAllJobs() []*models.Job {
	jobs, err := s.queryJobs(`SELECT data FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil
	}
	return jobs
}

func (s *sqlJobs) GetJobsInState(state models.JobStatus) ([]*models.Job, error) {
	return s.queryJobs(`SELECT data FROM jobs WHERE status = ? ORDER BY created_at, id`, string(state))
}

func (s *sqlJobs) queryJobs(query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := s.db.Query(s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *sqlJobs) ReplaceJob(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var curData string
	err = tx.QueryRow(s.q(`SELECT data FROM jobs WHERE id = ?`+s.lockClause), job.ID).Scan(&curData)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	cur, err := decodeJob(curData)
	if err != nil {
		return err
	}
	if err := checkReplace(cur, job); err != nil {
		return err
	}

	if _, err := tx.Exec(s.q(`
		UPDATE jobs SET status = ?, feature = ?, updated_at = ?, data = ? WHERE id = ?
	`), string(job.Status), job.Feature, time.Now().UTC(), string(data), job.ID); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return tx.Commit()
}

func (s *sqlJobs) DeleteJob(id string) error {
	res, err := s.db.Exec(s.q(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *sqlJobs) Close() error {
	return s.db.Close()
}

func (s *sqlJobs) HealthCheck() error {
	return s.db.Ping()
}

func decodeJob(data string) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
