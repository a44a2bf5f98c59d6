package script_test

import (
	"strings"
	"testing"

	"podforge/internal/script"
)

func TestParseSegmentsAlternatingSpeakers(t *testing.T) {
	text := strings.Join([]string{
		"SPEAKER_A: Welcome to the show.",
		"SPEAKER_B: Thanks, glad to be here.",
		"SPEAKER_A: Let's dive in.",
	}, "\n")

	segments := script.ParseSegments(text)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	wantSpeakers := []string{"SPEAKER_A", "SPEAKER_B", "SPEAKER_A"}
	for i, segment := range segments {
		if segment.Index != i {
			t.Errorf("segment %d: Index = %d", i, segment.Index)
		}
		if segment.Speaker != wantSpeakers[i] {
			t.Errorf("segment %d: Speaker = %q, want %q", i, segment.Speaker, wantSpeakers[i])
		}
		if strings.Contains(segment.Text, "SPEAKER_") {
			t.Errorf("segment %d: speaker prefix not stripped: %q", i, segment.Text)
		}
	}
}

func TestParseSegmentsAccumulatesContinuationLines(t *testing.T) {
	text := "SPEAKER_A: First line of the turn.\nSecond line continues the thought.\n\nSPEAKER_B: Reply."
	segments := script.ParseSegments(text)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if want := "First line of the turn. Second line continues the thought."; segments[0].Text != want {
		t.Fatalf("segment 0 text = %q, want %q", segments[0].Text, want)
	}
}

func TestParseSegmentsLeadingUnlabeledText(t *testing.T) {
	segments := script.ParseSegments("An intro line without a label.\nSPEAKER_A: Hello.")
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Speaker != "" {
		t.Fatalf("leading segment should have empty speaker, got %q", segments[0].Speaker)
	}
}

func TestParseSegmentsEmptyInput(t *testing.T) {
	if segments := script.ParseSegments("  \n \n"); len(segments) != 0 {
		t.Fatalf("expected no segments, got %d", len(segments))
	}
}
