package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Options controls chunk sizing. Zero values fall back to the defaults
// used across the engine.
type Options struct {
	// HardLimit is the ceiling no chunk may exceed, in bytes.
	HardLimit int
	// Target is the baseline soft ceiling for short podcasts. Longer
	// estimated durations step the effective target down so each chunk
	// stays inside a wall-clock processing budget.
	Target int
}

const (
	// DefaultHardLimit mirrors the synthesis provider's input ceiling
	// with headroom.
	DefaultHardLimit = 4000
	// DefaultTarget is the soft ceiling applied to short podcasts.
	DefaultTarget = 3500

	longFormTarget   = 2000
	mediumTarget     = 2500
	shortFormTarget  = 3000
	mediumMinutes    = 20
	longMinutes      = 30
	shortFormMinutes = 10
)

var speakerMarker = regexp.MustCompile(`(?m)^SPEAKER_[A-Z0-9]+:`)

func (o Options) withDefaults() Options {
	if o.HardLimit <= 0 {
		o.HardLimit = DefaultHardLimit
	}
	if o.Target <= 0 {
		o.Target = DefaultTarget
	}
	if o.Target > o.HardLimit {
		o.Target = o.HardLimit
	}
	return o
}

// Split partitions script into ordered chunk texts. The concatenation of
// the returned chunks reproduces the script up to whitespace trimmed at
// chunk boundaries; no chunk exceeds the hard ceiling. An empty script
// yields zero chunks; callers must validate input beforehand.
func Split(script string, estimatedMinutes int, opts Options) []string {
	opts = opts.withDefaults()
	target := targetFor(estimatedMinutes, opts)

	rest := strings.TrimSpace(script)
	var chunks []string
	for rest != "" {
		if len(rest) <= target {
			chunks = append(chunks, rest)
			break
		}

		cut := splitPoint(rest[:target])
		if cut <= 0 {
			// No boundary inside the window: hard cut at the ceiling.
			cut = runeCut(rest, opts.HardLimit)
		}

		chunk := strings.TrimSpace(rest[:cut])
		// Safety net: a soft split must still respect the hard ceiling.
		if len(chunk) > opts.HardLimit {
			cut = runeCut(rest, opts.HardLimit)
			chunk = strings.TrimSpace(rest[:cut])
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	return chunks
}

// runeCut backs index up to the nearest rune start so a hard cut never
// splits a multi-byte character.
func runeCut(s string, index int) int {
	if index >= len(s) {
		return len(s)
	}
	for index > 0 && !utf8.RuneStart(s[index]) {
		index--
	}
	return index
}

// targetFor steps the soft ceiling down as the estimated duration grows.
func targetFor(estimatedMinutes int, opts Options) int {
	target := opts.Target
	switch {
	case estimatedMinutes >= longMinutes:
		target = longFormTarget
	case estimatedMinutes >= mediumMinutes:
		target = mediumTarget
	case estimatedMinutes >= shortFormMinutes:
		target = shortFormTarget
	}
	if target > opts.Target {
		target = opts.Target
	}
	if target > opts.HardLimit {
		target = opts.HardLimit
	}
	return target
}

// splitPoint finds the best cut index inside the window, preferring a
// speaker-turn boundary, then the last sentence end, then the last
// whitespace. Returns 0 when no usable boundary exists.
func splitPoint(window string) int {
	if idx := lastSpeakerBoundary(window); idx > 0 {
		return idx
	}
	if idx := lastSentenceEnd(window); idx > 0 {
		return idx
	}
	if idx := strings.LastIndexAny(window, " \t\n"); idx > 0 {
		return idx
	}
	return 0
}

// lastSpeakerBoundary returns the start offset of the last speaker label
// in the window, so the split lands immediately before a speaker turn.
func lastSpeakerBoundary(window string) int {
	matches := speakerMarker.FindAllStringIndex(window, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1][0]
	if last <= 0 {
		return 0
	}
	return last
}

// lastSentenceEnd returns the index just past the last sentence-terminal
// punctuation in the window.
func lastSentenceEnd(window string) int {
	idx := strings.LastIndexAny(window, ".!?")
	if idx <= 0 {
		return 0
	}
	return idx + 1
}
