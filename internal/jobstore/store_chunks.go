package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"podforge/internal/services"
)

const chunkColumns = "job_id, chunk_index, chunk_text, status, audio_key, error_message, attempts, started_at, created_at, updated_at"

func scanChunk(scanner interface{ Scan(dest ...any) error }) (*Chunk, error) {
	var (
		jobID        string
		index        int
		text         string
		statusStr    string
		audioKey     sql.NullString
		errorMessage sql.NullString
		attempts     int
		startedRaw   sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&jobID,
		&index,
		&text,
		&statusStr,
		&audioKey,
		&errorMessage,
		&attempts,
		&startedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	status, ok := ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("chunk %s/%d has unknown status %q", jobID, index, statusStr)
	}

	return &Chunk{
		JobID:        jobID,
		Index:        index,
		Text:         text,
		Status:       status,
		AudioKey:     audioKey.String,
		ErrorMessage: errorMessage.String,
		Attempts:     attempts,
		StartedAt:    parseTimestamp(startedRaw),
		CreatedAt:    parseTimestamp(createdRaw),
		UpdatedAt:    parseTimestamp(updatedRaw),
	}, nil
}

// GetChunk fetches a single chunk by job ID and index.
func (s *Store) GetChunk(ctx context.Context, jobID string, index int) (*Chunk, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE job_id = ? AND chunk_index = ?",
		jobID, index,
	)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobstore", "get chunk",
			fmt.Sprintf("chunk %d of job %s not found", index, jobID), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "get chunk", "query chunk", err)
	}
	return chunk, nil
}

// ListChunks returns all chunks for a job in index order.
func (s *Store) ListChunks(ctx context.Context, jobID string) ([]*Chunk, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE job_id = ? ORDER BY chunk_index",
		jobID,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "list chunks", "query chunks", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "jobstore", "list chunks", "scan chunk", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "list chunks", "iterate chunks", err)
	}
	return chunks, nil
}

// NextPendingChunk returns the lowest-index pending chunk for a job, or nil
// when none remain.
func (s *Store) NextPendingChunk(ctx context.Context, jobID string) (*Chunk, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE job_id = ? AND status = ? ORDER BY chunk_index LIMIT 1",
		jobID, string(StatusPending),
	)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "jobstore", "next pending chunk", "query chunk", err)
	}
	return chunk, nil
}

// MarkChunkProcessing moves a chunk to processing, stamping started_at so
// stale work can be reclaimed later. Each call counts one attempt.
func (s *Store) MarkChunkProcessing(ctx context.Context, jobID string, index int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx,
		`UPDATE chunks SET status = ?, error_message = NULL, attempts = attempts + 1, started_at = ?, updated_at = ?
		 WHERE job_id = ? AND chunk_index = ?`,
		string(StatusProcessing), now, now, jobID, index,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "jobstore", "mark chunk processing", "update chunk", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "jobstore", "mark chunk processing",
			fmt.Sprintf("chunk %d of job %s not found", index, jobID), nil)
	}
	return nil
}

// MarkChunkError records a failed attempt. The chunk returns to pending when
// retryable is true so a later pass can pick it up again, and parks in error
// otherwise.
func (s *Store) MarkChunkError(ctx context.Context, jobID string, index int, message string, retryable bool) error {
	status := StatusError
	if retryable {
		status = StatusPending
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE chunks SET status = ?, error_message = ?, updated_at = ?
		 WHERE job_id = ? AND chunk_index = ?`,
		string(status),
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID, index,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "jobstore", "mark chunk error", "update chunk", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "jobstore", "mark chunk error",
			fmt.Sprintf("chunk %d of job %s not found", index, jobID), nil)
	}
	return nil
}

// CompletionResult reports what the atomic completion did.
type CompletionResult struct {
	// AlreadyCompleted is true when the chunk was finished by an earlier
	// invocation and this call changed nothing.
	AlreadyCompleted bool
	// CompletedChunks is the job's counter after the call.
	CompletedChunks int
	// JobCompleted is true when this call completed the final chunk.
	JobCompleted bool
	// CounterDrifted is true when the job counter had already reached
	// total_chunks before this chunk completed. The chunk row is recorded
	// but the counter is left for reconciliation to repair.
	CounterDrifted bool
}

const completeChunkConflictRetries = 5

// CompleteChunk marks a chunk completed and advances the job's counter in a
// single transaction. The counter update carries an optimistic guard on the
// previously observed value, so two invocations racing on different chunks
// each land exactly one increment. Completing an already-completed chunk is
// a no-op, and the counter never exceeds total_chunks.
func (s *Store) CompleteChunk(ctx context.Context, jobID string, index int, audioKey string) (CompletionResult, error) {
	var result CompletionResult
	var conflict error
	for attempt := 0; attempt < completeChunkConflictRetries; attempt++ {
		result = CompletionResult{}
		conflict = nil
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			var chunkStatus string
			err := tx.QueryRowContext(ctx,
				"SELECT status FROM chunks WHERE job_id = ? AND chunk_index = ?",
				jobID, index,
			).Scan(&chunkStatus)
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrNotFound, "jobstore", "complete chunk",
					fmt.Sprintf("chunk %d of job %s not found", index, jobID), nil)
			}
			if err != nil {
				return err
			}

			var totalChunks, completedChunks int
			if err := tx.QueryRowContext(ctx,
				"SELECT total_chunks, completed_chunks FROM jobs WHERE id = ?",
				jobID,
			).Scan(&totalChunks, &completedChunks); err != nil {
				return err
			}

			if Status(chunkStatus) == StatusCompleted {
				result.AlreadyCompleted = true
				result.CompletedChunks = completedChunks
				return nil
			}

			now := time.Now().UTC().Format(time.RFC3339Nano)
			if _, err := tx.ExecContext(ctx,
				`UPDATE chunks SET status = ?, audio_key = ?, error_message = NULL, updated_at = ?
				 WHERE job_id = ? AND chunk_index = ?`,
				string(StatusCompleted), nullableString(audioKey), now, jobID, index,
			); err != nil {
				return err
			}

			// A counter already at total means the job row drifted high.
			// Incrementing would push it past total_chunks, so leave the
			// repair to reconciliation against the chunk rows.
			if completedChunks >= totalChunks {
				result.CompletedChunks = completedChunks
				result.CounterDrifted = true
				return nil
			}

			res, err := tx.ExecContext(ctx,
				`UPDATE jobs SET completed_chunks = completed_chunks + 1, updated_at = ?
				 WHERE id = ? AND completed_chunks = ? AND completed_chunks < total_chunks`,
				now, jobID, completedChunks,
			)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				conflict = fmt.Errorf("completed_chunks moved from %d during completion of chunk %d", completedChunks, index)
				return conflict
			}

			result.CompletedChunks = completedChunks + 1
			if result.CompletedChunks >= totalChunks {
				result.JobCompleted = true
				if _, err := tx.ExecContext(ctx,
					"UPDATE jobs SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?",
					string(StatusCompleted), now, jobID,
				); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, conflict) && conflict != nil {
			continue
		}
		if errors.Is(err, services.ErrNotFound) {
			return CompletionResult{}, err
		}
		return CompletionResult{}, services.Wrap(services.ErrStorage, "jobstore", "complete chunk", "completion transaction", err)
	}
	return CompletionResult{}, services.Wrap(services.ErrStorage, "jobstore", "complete chunk",
		fmt.Sprintf("gave up after %d counter conflicts", completeChunkConflictRetries), conflict)
}

// ChunkCountsFor tallies a job's chunk rows by status. Reconciliation treats
// these counts as the source of truth for the job row.
func (s *Store) ChunkCountsFor(ctx context.Context, jobID string) (ChunkCounts, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(1) FROM chunks WHERE job_id = ? GROUP BY status",
		jobID,
	)
	if err != nil {
		return ChunkCounts{}, services.Wrap(services.ErrStorage, "jobstore", "chunk counts", "query chunks", err)
	}
	defer rows.Close()

	var counts ChunkCounts
	for rows.Next() {
		var statusStr string
		var count int
		if err := rows.Scan(&statusStr, &count); err != nil {
			return ChunkCounts{}, services.Wrap(services.ErrStorage, "jobstore", "chunk counts", "scan row", err)
		}
		counts.Total += count
		switch Status(statusStr) {
		case StatusPending:
			counts.Pending = count
		case StatusProcessing:
			counts.Processing = count
		case StatusCompleted:
			counts.Completed = count
		case StatusError:
			counts.Errored = count
		}
	}
	if err := rows.Err(); err != nil {
		return ChunkCounts{}, services.Wrap(services.ErrStorage, "jobstore", "chunk counts", "iterate rows", err)
	}
	return counts, nil
}

// ResetChunkForRetry returns an errored chunk to pending and clears its
// attempt count so operators can rerun it manually.
func (s *Store) ResetChunkForRetry(ctx context.Context, jobID string, index int) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE chunks SET status = ?, error_message = NULL, attempts = 0, updated_at = ?
		 WHERE job_id = ? AND chunk_index = ? AND status = ?`,
		string(StatusPending),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID, index,
		string(StatusError),
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "jobstore", "reset chunk", "update chunk", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrValidation, "jobstore", "reset chunk",
			fmt.Sprintf("chunk %d of job %s is not in the error state", index, jobID), nil)
	}
	return nil
}

// ReclaimStaleProcessing returns chunks stuck in processing since before the
// cutoff to pending. Covers work orphaned by a crash mid-synthesis.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE chunks SET status = ?, updated_at = ?
		 WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		string(StatusPending),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(StatusProcessing),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "jobstore", "reclaim stale", "update chunks", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
