package logging

// Standard attribute keys. Engine components use these rather than ad-hoc
// strings so log lines stay greppable across packages.
const (
	FieldComponent    = "component"
	FieldEventType    = "event_type"
	FieldErrorHint    = "error_hint"
	FieldJobID        = "job_id"
	FieldChunkIndex   = "chunk_index"
	FieldSegmentIndex = "segment_index"
	FieldAttempt      = "attempt"
	FieldRequestID    = "request_id"
)
