package subtitles

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{
			name:     "canonical form",
			input:    "00:01:02,500",
			expected: time.Minute + 2*time.Second + 500*time.Millisecond,
		},
		{
			name:     "dot separator",
			input:    "01:02:03.250",
			expected: time.Hour + 2*time.Minute + 3*time.Second + 250*time.Millisecond,
		},
		{
			name:     "short milliseconds are right-padded",
			input:    "00:00:01,5",
			expected: time.Second + 500*time.Millisecond,
		},
		{
			name:     "two millisecond digits",
			input:    "00:00:01,55",
			expected: time.Second + 550*time.Millisecond,
		},
		{
			name:    "garbage",
			input:   "not a timestamp",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	d := time.Hour + 23*time.Minute + 45*time.Second + 678*time.Millisecond
	if got := FormatTimestamp(d); got != "01:23:45,678" {
		t.Errorf("FormatTimestamp = %q, want 01:23:45,678", got)
	}
	if got := FormatTimestamp(-time.Second); got != "00:00:00,000" {
		t.Errorf("negative duration should clamp to zero, got %q", got)
	}
}

func TestParse(t *testing.T) {
	input := "1\n" +
		"00:00:01,000 --> 00:00:03,000\n" +
		"First line\n" +
		"Second line\n" +
		"\n" +
		"2\n" +
		"00:00:04.5 --> 00:00:06,000\n" +
		"Dotted timestamp cue\n" +
		"\n"

	segments, err := ParseString(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Index != 1 || segments[1].Index != 2 {
		t.Errorf("segments should be renumbered sequentially, got %d and %d", segments[0].Index, segments[1].Index)
	}
	if len(segments[0].Lines) != 2 || segments[0].Lines[0] != "First line" {
		t.Errorf("unexpected first segment lines: %v", segments[0].Lines)
	}
	if segments[1].Start != 4*time.Second+500*time.Millisecond {
		t.Errorf("dotted timestamp parsed wrong: %v", segments[1].Start)
	}
}

func TestParse_DropsBlankCuesAndRenumbers(t *testing.T) {
	input := "7\n" +
		"00:00:01,000 --> 00:00:02,000\n" +
		"Kept\n" +
		"\n" +
		"8\n" +
		"00:00:03,000 --> 00:00:04,000\n" +
		"\n" +
		"9\n" +
		"00:00:05,000 --> 00:00:06,000\n" +
		"Also kept\n"

	segments, err := ParseString(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("blank cue should be dropped, got %d segments", len(segments))
	}
	if segments[0].Index != 1 || segments[1].Index != 2 {
		t.Errorf("renumbering broken: %d, %d", segments[0].Index, segments[1].Index)
	}
}

func TestParse_StripsBOM(t *testing.T) {
	input := "\uFEFF1\n00:00:01,000 --> 00:00:02,000\nHello\n"
	segments, err := ParseString(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := ParseString(""); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	segments := []Segment{
		{Index: 1, Start: time.Second, End: 3 * time.Second, Lines: []string{"One", "Two"}},
		{Index: 2, Start: 5 * time.Second, End: 6500 * time.Millisecond, Lines: []string{"Three"}},
	}

	reparsed, err := ParseString(Build(segments))
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if len(reparsed) != len(segments) {
		t.Fatalf("expected %d segments, got %d", len(segments), len(reparsed))
	}
	for i := range segments {
		if reparsed[i].Start != segments[i].Start || reparsed[i].End != segments[i].End {
			t.Errorf("segment %d timing changed: %v-%v vs %v-%v",
				i, reparsed[i].Start, reparsed[i].End, segments[i].Start, segments[i].End)
		}
		if len(reparsed[i].Lines) != len(segments[i].Lines) {
			t.Errorf("segment %d line count changed", i)
		}
	}
}

func TestNormalize(t *testing.T) {
	sloppy := "3\n00:00:01.5 --> 00:00:02.75\nHello\n"
	normalized, err := Normalize(sloppy)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	expected := "1\n00:00:01,500 --> 00:00:02,750\nHello\n\n"
	if normalized != expected {
		t.Errorf("Normalize = %q, want %q", normalized, expected)
	}

	// Normalizing canonical output is a no-op.
	again, err := Normalize(normalized)
	if err != nil {
		t.Fatalf("second Normalize failed: %v", err)
	}
	if again != normalized {
		t.Error("Normalize is not idempotent")
	}
}
