package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"podforge/internal/blob"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/script"
	"podforge/internal/services"
)

func chunkAudioKey(jobID string, index int) string {
	return fmt.Sprintf("jobs/%s/chunk_%03d.mp3", jobID, index)
}

// ProcessChunk runs one chunk through synthesis, upload, and atomic
// completion. It is safe to invoke repeatedly for the same chunk: an
// in-process lock collapses concurrent invocations into one, and a chunk
// already completed in the store is skipped without side effects.
func (e *Engine) ProcessChunk(ctx context.Context, jobID string, index int) (Action, error) {
	if !e.tryLockChunk(jobID, index) {
		return Action{Kind: ActionWait, JobID: jobID}, nil
	}
	defer e.unlockChunk(jobID, index)

	logger := e.logger.With(
		logging.String(logging.FieldJobID, jobID),
		logging.Int(logging.FieldChunkIndex, index),
	)

	chunk, err := e.store.GetChunk(ctx, jobID, index)
	if err != nil {
		return Action{}, err
	}
	if chunk.Status == jobstore.StatusCompleted {
		logger.Debug("chunk already completed, skipping",
			logging.String(logging.FieldEventType, "chunk_skipped"))
		return e.NextAction(ctx, jobID, index)
	}

	if err := e.store.MarkChunkProcessing(ctx, jobID, index); err != nil {
		return Action{}, err
	}
	attempt := chunk.Attempts + 1
	logger.Info("processing chunk",
		logging.Int(logging.FieldAttempt, attempt),
		logging.Int("chunk_chars", len(chunk.Text)),
		logging.String(logging.FieldEventType, "chunk_processing"),
	)

	audio, synthErr := e.synthesizeChunk(ctx, chunk)
	if synthErr != nil {
		return e.failChunk(ctx, logger, chunk, attempt, synthErr)
	}

	key := chunkAudioKey(jobID, index)
	if err := blob.PutVerified(ctx, e.blobs, key, audio, "audio/mpeg"); err != nil {
		return e.failChunk(ctx, logger, chunk, attempt, err)
	}

	result, err := e.store.CompleteChunk(ctx, jobID, index, key)
	if err != nil {
		return Action{}, err
	}
	if result.AlreadyCompleted {
		logger.Debug("chunk completed by another invocation",
			logging.String(logging.FieldEventType, "chunk_skipped"))
		return e.NextAction(ctx, jobID, index)
	}
	if result.CounterDrifted {
		logger.Warn("job counter already at total, repairing from chunk rows",
			logging.Int("completed_chunks", result.CompletedChunks),
			logging.String(logging.FieldEventType, "counter_drift"),
		)
		return Action{Kind: ActionReconcile, JobID: jobID}, nil
	}

	logger.Info("chunk completed",
		logging.Int("completed_chunks", result.CompletedChunks),
		logging.Int("audio_bytes", len(audio)),
		logging.String(logging.FieldEventType, "chunk_completed"),
	)

	if result.JobCompleted {
		if err := e.assembleJob(ctx, jobID); err != nil {
			logger.Error("final assembly failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "assembly_failed"),
				logging.String(logging.FieldErrorHint, "chunk audio is intact, rerun reconcile to retry assembly"),
			)
		}
		return Action{Kind: ActionNone, JobID: jobID}, nil
	}
	return e.NextAction(ctx, jobID, index)
}

// synthesizeChunk parses the chunk into speaker segments and synthesizes
// them in order. A segment failure does not abort the chunk: remaining
// segments still run, and the chunk only fails when every segment failed.
func (e *Engine) synthesizeChunk(ctx context.Context, chunk *jobstore.Chunk) ([]byte, error) {
	segments := script.ParseSegments(chunk.Text)
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrValidation, "engine", "synthesize chunk", "chunk has no synthesizable text", nil)
	}
	e.assignVoices(segments)

	logger := e.logger.With(
		logging.String(logging.FieldJobID, chunk.JobID),
		logging.Int(logging.FieldChunkIndex, chunk.Index),
	)

	var audio []byte
	var succeeded int
	var lastErr error
	for _, segment := range segments {
		buf, err := e.synth.SynthesizeSegment(ctx, segment)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("segment synthesis failed, continuing with remaining segments",
				logging.Int(logging.FieldSegmentIndex, segment.Index),
				logging.Error(err),
				logging.String(logging.FieldEventType, "segment_failed"),
			)
			continue
		}
		audio = append(audio, buf...)
		succeeded++
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("all %d segments failed: %w", len(segments), lastErr)
	}
	if succeeded < len(segments) {
		logger.Warn("chunk degraded, some segments missing from audio",
			logging.Int("segments_total", len(segments)),
			logging.Int("segments_succeeded", succeeded),
			logging.String(logging.FieldEventType, "chunk_degraded"),
		)
	}
	return audio, nil
}

// assignVoices maps distinct speaker labels onto the configured voices in
// order of first appearance. Unlabeled segments and odd extra speakers fall
// back to the primary voice.
func (e *Engine) assignVoices(segments []script.Segment) {
	voices := []string{e.cfg.Synthesis.VoiceA, e.cfg.Synthesis.VoiceB}
	assigned := make(map[string]string)
	next := 0
	for i := range segments {
		speaker := segments[i].Speaker
		if speaker == "" {
			segments[i].Voice = voices[0]
			continue
		}
		voice, ok := assigned[speaker]
		if !ok {
			voice = voices[next%len(voices)]
			assigned[speaker] = voice
			next++
		}
		segments[i].Voice = voice
	}
}

func (e *Engine) failChunk(ctx context.Context, logger *slog.Logger, chunk *jobstore.Chunk, attempt int, cause error) (Action, error) {
	retryable := services.IsRetryable(cause) && attempt < e.cfg.Engine.ChunkRetryLimit
	if retryable {
		logger.Warn("chunk attempt failed, will retry",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Int("retry_limit", e.cfg.Engine.ChunkRetryLimit),
			logging.Error(cause),
			logging.String(logging.FieldEventType, "chunk_retry"),
		)
	} else {
		logger.Error("chunk failed permanently",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(cause),
			logging.String(logging.FieldEventType, "chunk_failed"),
			logging.String(logging.FieldErrorHint, "inspect the chunk error and rerun with the retry command"),
		)
	}
	if err := e.store.MarkChunkError(ctx, chunk.JobID, chunk.Index, cause.Error(), retryable); err != nil {
		return Action{}, err
	}
	action, err := e.NextAction(ctx, chunk.JobID, chunk.Index)
	if err != nil {
		return Action{}, err
	}
	// Back off harder each time the same chunk comes around again.
	if retryable && action.Kind == ActionProcessChunk && action.ChunkIndex == chunk.Index {
		action.Delay *= time.Duration(attempt)
	}
	return action, nil
}
