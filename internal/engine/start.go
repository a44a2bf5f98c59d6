package engine

import (
	"context"
	"strings"

	"podforge/internal/chunker"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/services"
)

// StartJob validates a script, splits it into chunks, and persists the job
// with all chunk rows pending. The first chunk becomes eligible for dispatch
// immediately.
func (e *Engine) StartJob(ctx context.Context, title, scriptText string, estimatedMinutes int) (*jobstore.Job, error) {
	if strings.TrimSpace(scriptText) == "" {
		return nil, services.Wrap(services.ErrValidation, "engine", "start job", "script is empty", nil)
	}

	chunks := chunker.Split(scriptText, estimatedMinutes, chunker.Options{
		HardLimit: e.cfg.Chunking.HardLimitChars,
		Target:    e.cfg.Chunking.TargetChars,
	})
	if len(chunks) == 0 {
		return nil, services.Wrap(services.ErrValidation, "engine", "start job", "script produced no chunks", nil)
	}

	job, err := e.store.CreateJobWithChunks(ctx, title, estimatedMinutes, chunks)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetJobStatus(ctx, job.ID, jobstore.StatusProcessing, ""); err != nil {
		return nil, err
	}
	job.Status = jobstore.StatusProcessing

	e.logger.Info("job started",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("total_chunks", job.TotalChunks),
		logging.Int("estimated_minutes", estimatedMinutes),
		logging.String(logging.FieldEventType, "job_started"),
	)
	return job, nil
}
