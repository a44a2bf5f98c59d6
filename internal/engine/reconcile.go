package engine

import (
	"context"
	"fmt"

	"podforge/internal/jobstore"
	"podforge/internal/logging"
)

// Report describes what one reconciliation pass found and changed.
type Report struct {
	JobID           string
	StatusBefore    jobstore.Status
	StatusAfter     jobstore.Status
	CompletedBefore int
	CompletedAfter  int
	Changed         bool
	Message         string
}

// Reconcile rebuilds a job's counters and status from its chunk rows. Chunk
// rows are the source of truth: whatever the job row claims, the counts win.
// A job whose chunks are all terminal gets its final status here, including
// the failure summary when some chunks errored out.
func (e *Engine) Reconcile(ctx context.Context, jobID string) (Report, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return Report{}, err
	}
	counts, err := e.store.ChunkCountsFor(ctx, jobID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		JobID:           jobID,
		StatusBefore:    job.Status,
		CompletedBefore: job.CompletedChunks,
		CompletedAfter:  counts.Completed,
	}

	status, message := deriveJobState(job.Status, counts)
	report.StatusAfter = status
	report.Message = message

	if status != job.Status || counts.Completed != job.CompletedChunks {
		if err := e.store.ForceJobCounters(ctx, jobID, counts.Completed, status, message); err != nil {
			return Report{}, err
		}
		report.Changed = true
		e.logger.Info("job reconciled",
			logging.String(logging.FieldJobID, jobID),
			logging.String("status_before", string(report.StatusBefore)),
			logging.String("status_after", string(status)),
			logging.Int("completed_before", report.CompletedBefore),
			logging.Int("completed_after", counts.Completed),
			logging.String(logging.FieldEventType, "job_reconciled"),
		)
	}

	if status == jobstore.StatusCompleted && job.AudioKey == "" {
		if err := e.assembleJob(ctx, jobID); err != nil {
			e.logger.Error("final assembly failed during reconcile",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "assembly_failed"),
			)
		}
	}
	return report, nil
}

// ReconcileAll runs reconciliation over every non-terminal job and over
// errored jobs, which may have been repaired by manual chunk retries.
func (e *Engine) ReconcileAll(ctx context.Context) ([]Report, error) {
	jobs, err := e.store.ListJobs(ctx, jobstore.StatusPending, jobstore.StatusProcessing, jobstore.StatusError)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(jobs))
	for _, job := range jobs {
		report, err := e.Reconcile(ctx, job.ID)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// deriveJobState maps chunk counts onto the job status. In-flight or pending
// chunks keep the job in its current forward state; fully terminal chunk sets
// settle to completed or error.
func deriveJobState(current jobstore.Status, counts jobstore.ChunkCounts) (jobstore.Status, string) {
	switch {
	case counts.Total == 0:
		return current, ""
	case counts.Completed == counts.Total:
		return jobstore.StatusCompleted, ""
	case counts.Pending == 0 && counts.Processing == 0:
		failed := counts.Total - counts.Completed
		return jobstore.StatusError, fmt.Sprintf("%d of %d chunks failed", failed, counts.Total)
	case counts.Completed > 0 || counts.Processing > 0 || counts.Errored > 0:
		return jobstore.StatusProcessing, ""
	default:
		return current, ""
	}
}
