// Package script parses speaker-labeled dialogue text into ordered
// segments and sanitizes text for the synthesis provider, which rejects
// or mishandles many Unicode punctuation variants.
package script
