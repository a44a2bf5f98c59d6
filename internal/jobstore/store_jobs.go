package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"podforge/internal/services"
)

const jobColumns = "id, title, status, total_chunks, completed_chunks, estimated_minutes, audio_key, error_message, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               string
		title            sql.NullString
		statusStr        string
		totalChunks      int
		completedChunks  int
		estimatedMinutes int
		audioKey         sql.NullString
		errorMessage     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&statusStr,
		&totalChunks,
		&completedChunks,
		&estimatedMinutes,
		&audioKey,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	status, ok := ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("job %s has unknown status %q", id, statusStr)
	}

	return &Job{
		ID:               id,
		Title:            title.String,
		Status:           status,
		TotalChunks:      totalChunks,
		CompletedChunks:  completedChunks,
		EstimatedMinutes: estimatedMinutes,
		AudioKey:         audioKey.String,
		ErrorMessage:     errorMessage.String,
		CreatedAt:        parseTimestamp(createdRaw),
		UpdatedAt:        parseTimestamp(updatedRaw),
	}, nil
}

// CreateJobWithChunks inserts a job row together with its pending chunk rows
// in one transaction, so a job is never visible without its chunks.
func (s *Store) CreateJobWithChunks(ctx context.Context, title string, estimatedMinutes int, chunkTexts []string) (*Job, error) {
	if len(chunkTexts) == 0 {
		return nil, services.Wrap(services.ErrValidation, "jobstore", "create job", "job requires at least one chunk", nil)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	job := &Job{
		ID:               uuid.NewString(),
		Title:            title,
		Status:           StatusPending,
		TotalChunks:      len(chunkTexts),
		EstimatedMinutes: estimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, title, status, total_chunks, completed_chunks, estimated_minutes, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			job.ID,
			nullableString(job.Title),
			string(job.Status),
			job.TotalChunks,
			job.EstimatedMinutes,
			timestamp,
			timestamp,
		); err != nil {
			return err
		}
		for idx, text := range chunkTexts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (job_id, chunk_index, chunk_text, status, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				job.ID,
				idx,
				text,
				string(StatusPending),
				timestamp,
				timestamp,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "create job", "insert job and chunks", err)
	}
	return job, nil
}

// GetJob fetches a single job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobstore", "get job", fmt.Sprintf("job %s not found", jobID), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "get job", "query job", err)
	}
	return job, nil
}

// ListJobs returns jobs, optionally filtered to the given statuses,
// newest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "list jobs", "query jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "jobstore", "list jobs", "scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "list jobs", "iterate jobs", err)
	}
	return jobs, nil
}

// SetJobStatus moves a job to the given status, replacing its error message.
func (s *Store) SetJobStatus(ctx context.Context, jobID string, status Status, errorMessage string) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		string(status),
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "jobstore", "set job status", "update job", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "jobstore", "set job status", fmt.Sprintf("job %s not found", jobID), nil)
	}
	return nil
}

// SetJobAudioKey records the assembled output location for a finished job.
func (s *Store) SetJobAudioKey(ctx context.Context, jobID, audioKey string) error {
	_, err := s.execWithRetry(ctx,
		"UPDATE jobs SET audio_key = ?, updated_at = ? WHERE id = ?",
		nullableString(audioKey),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "jobstore", "set job audio key", "update job", err)
	}
	return nil
}

// ForceJobCounters rewrites a job's derived fields from an external audit.
// Used by reconciliation when chunk rows disagree with the job row.
func (s *Store) ForceJobCounters(ctx context.Context, jobID string, completedChunks int, status Status, errorMessage string) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE jobs SET completed_chunks = ?, status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		completedChunks,
		string(status),
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "jobstore", "force job counters", "update job", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "jobstore", "force job counters", fmt.Sprintf("job %s not found", jobID), nil)
	}
	return nil
}

// Stats aggregates job rows by status.
func (s *Store) Stats(ctx context.Context) (JobStats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return JobStats{}, services.Wrap(services.ErrStorage, "jobstore", "stats", "query jobs", err)
	}
	defer rows.Close()

	var stats JobStats
	for rows.Next() {
		var statusStr string
		var count int
		if err := rows.Scan(&statusStr, &count); err != nil {
			return JobStats{}, services.Wrap(services.ErrStorage, "jobstore", "stats", "scan row", err)
		}
		stats.Total += count
		switch Status(statusStr) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusError:
			stats.Errored = count
		}
	}
	if err := rows.Err(); err != nil {
		return JobStats{}, services.Wrap(services.ErrStorage, "jobstore", "stats", "iterate rows", err)
	}
	return stats, nil
}
