// Package logging builds slog loggers with console and JSON handlers and
// provides typed attribute helpers plus the standard field names used
// across the engine (job_id, chunk_index, attempt, event_type).
package logging
