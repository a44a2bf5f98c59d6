package jobstore

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job or a chunk.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether the status will not change without operator action.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job is one podcast generation request tracked end to end.
type Job struct {
	ID               string
	Title            string
	Status           Status
	TotalChunks      int
	CompletedChunks  int
	EstimatedMinutes int
	AudioKey         string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chunk is one synthesizable slice of a job's script.
type Chunk struct {
	JobID        string
	Index        int
	Text         string
	Status       Status
	AudioKey     string
	ErrorMessage string
	Attempts     int
	StartedAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChunkCounts summarizes chunk rows for one job, grouped by status.
type ChunkCounts struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Errored    int
}

// JobStats aggregates job rows across the whole store.
type JobStats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Errored    int
}
