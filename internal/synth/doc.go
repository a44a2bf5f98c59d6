// Package synth turns one speaker-attributed segment into audio via the
// external synthesis provider, with sanitization, rate limiting, retry
// with exponential backoff, and sub-splitting of overlong text.
package synth
