package script

import (
	"regexp"
	"strings"
)

// Segment is one speaker's contiguous turn within a chunk. Segments are
// ephemeral: they exist only inside a single chunk-processor invocation.
type Segment struct {
	Index   int
	Speaker string
	Text    string
	Voice   string
}

var speakerLine = regexp.MustCompile(`^(SPEAKER_[A-Z0-9]+):\s*(.*)$`)

// ParseSegments scans chunk text line by line. A speaker-labeled line
// starts a new segment; continuation lines accumulate into the current
// one. Text before the first label becomes a segment with an empty
// speaker so the caller can apply a default voice. Segment order is the
// original line order and must not be disturbed by later processing.
func ParseSegments(text string) []Segment {
	var segments []Segment
	var current *Segment

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" {
			current.Index = len(segments)
			segments = append(segments, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			flush()
			current = &Segment{Speaker: m[1], Text: m[2]}
			continue
		}
		if current == nil {
			current = &Segment{}
		}
		if current.Text != "" {
			current.Text += " "
		}
		current.Text += line
	}
	flush()
	return segments
}
