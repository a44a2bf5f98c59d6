package engine

import (
	"context"
	"time"

	"podforge/internal/jobstore"
)

// ActionKind names the dispatcher's next move for a job.
type ActionKind string

const (
	// ActionProcessChunk schedules one chunk for synthesis after Delay.
	ActionProcessChunk ActionKind = "process_chunk"
	// ActionReconcile repairs job counters from chunk rows, or finalizes
	// a job whose chunks are all terminal.
	ActionReconcile ActionKind = "reconcile"
	// ActionWait means other chunks are in flight and nothing is pending.
	ActionWait ActionKind = "wait"
	// ActionNone means the job is terminal and needs nothing.
	ActionNone ActionKind = "none"
)

// Action is one dispatch decision.
type Action struct {
	Kind       ActionKind
	JobID      string
	ChunkIndex int
	Delay      time.Duration
}

// NextAction decides what a job needs next. lastIndex is the chunk the
// caller just finished, or -1 when nothing was processed yet; its successor
// is preferred so chunks tend to complete in order. Counter drift between
// the job row and its chunk rows forces reconciliation before any further
// processing.
func (e *Engine) NextAction(ctx context.Context, jobID string, lastIndex int) (Action, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return Action{}, err
	}
	counts, err := e.store.ChunkCountsFor(ctx, jobID)
	if err != nil {
		return Action{}, err
	}

	if job.CompletedChunks != counts.Completed || job.TotalChunks != counts.Total {
		return Action{Kind: ActionReconcile, JobID: jobID}, nil
	}
	if job.Status.IsTerminal() && counts.Pending == 0 && counts.Processing == 0 {
		return Action{Kind: ActionNone, JobID: jobID}, nil
	}

	if counts.Pending > 0 {
		index, err := e.pickPendingChunk(ctx, jobID, lastIndex)
		if err != nil {
			return Action{}, err
		}
		if index >= 0 {
			return Action{Kind: ActionProcessChunk, JobID: jobID, ChunkIndex: index, Delay: e.dispatchDelay()}, nil
		}
	}
	if counts.Processing > 0 {
		return Action{Kind: ActionWait, JobID: jobID}, nil
	}

	// Every chunk is terminal but the job row is not. Reconciliation
	// settles the final status.
	return Action{Kind: ActionReconcile, JobID: jobID}, nil
}

func (e *Engine) pickPendingChunk(ctx context.Context, jobID string, lastIndex int) (int, error) {
	if lastIndex >= 0 {
		chunk, err := e.store.GetChunk(ctx, jobID, lastIndex+1)
		if err == nil && chunk.Status == jobstore.StatusPending {
			return chunk.Index, nil
		}
	}
	chunk, err := e.store.NextPendingChunk(ctx, jobID)
	if err != nil {
		return -1, err
	}
	if chunk == nil {
		return -1, nil
	}
	return chunk.Index, nil
}
