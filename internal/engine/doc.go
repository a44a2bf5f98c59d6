// Package engine orchestrates podcast jobs end to end: it chunks
// incoming scripts, drives per-chunk synthesis through the rate-limited
// synthesizer, records atomic completion in the job store, assembles
// the final episode, and reconciles job counters against chunk rows
// when they drift.
package engine
