package engine

import (
	"context"
	"fmt"

	"podforge/internal/blob"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/services"
)

func episodeKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/podcast.mp3", jobID)
}

// assembleJob concatenates completed chunk audio in index order into the
// final episode object and records its key on the job. Chunks without audio
// are skipped, so a job completed through manual intervention still yields
// a playable, if degraded, episode.
func (e *Engine) assembleJob(ctx context.Context, jobID string) error {
	chunks, err := e.store.ListChunks(ctx, jobID)
	if err != nil {
		return err
	}

	var episode []byte
	var assembled int
	for _, chunk := range chunks {
		if chunk.Status != jobstore.StatusCompleted || chunk.AudioKey == "" {
			continue
		}
		buf, err := e.blobs.Get(ctx, chunk.AudioKey)
		if err != nil {
			return services.Wrap(services.ErrStorage, "engine", "assemble",
				fmt.Sprintf("fetch audio for chunk %d", chunk.Index), err)
		}
		episode = append(episode, buf...)
		assembled++
	}
	if assembled == 0 {
		return services.Wrap(services.ErrStorage, "engine", "assemble", "no chunk audio available", nil)
	}

	key := episodeKey(jobID)
	if err := blob.PutVerified(ctx, e.blobs, key, episode, "audio/mpeg"); err != nil {
		return err
	}
	if err := e.store.SetJobAudioKey(ctx, jobID, key); err != nil {
		return err
	}

	e.logger.Info("episode assembled",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("chunks_assembled", assembled),
		logging.Int("episode_bytes", len(episode)),
		logging.String(logging.FieldEventType, "episode_assembled"),
	)
	return nil
}
