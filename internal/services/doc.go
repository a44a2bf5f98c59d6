// Package services defines the shared error taxonomy used by engine
// components and external service clients. Sentinel errors classify
// failures for retry and status decisions; Wrap attaches component and
// operation context while preserving the sentinel for errors.Is checks.
package services
