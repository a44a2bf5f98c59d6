// Package jobstore persists jobs and their chunks in SQLite and owns
// every state transition, including the atomic chunk-completion
// operation that keeps completed_chunks consistent with chunk rows
// under concurrent invocation.
package jobstore
