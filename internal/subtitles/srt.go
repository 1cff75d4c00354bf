// -----------------------------------------------------------------------
// SRT - parse, normalize and rebuild SubRip subtitle files
// -----------------------------------------------------------------------

package subtitles

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Segment is one subtitle cue: index, time range and text lines.
type Segment struct {
	Index int
	Start time.Duration
	End   time.Duration
	Lines []string
}

// timestampPattern accepts the canonical HH:MM:SS,mmm plus the sloppy
// variants found in the wild: dot separators and missing millisecond digits.
var timestampPattern = regexp.MustCompile(`(\d{1,2}):(\d{1,2}):(\d{1,2})[,.](\d{1,3})`)

var cueTimingPattern = regexp.MustCompile(`^\s*(\d{1,2}:\d{1,2}:\d{1,2}[,.]\d{1,3})\s*-->\s*(\d{1,2}:\d{1,2}:\d{1,2}[,.]\d{1,3})`)

// ParseTimestamp parses an SRT timestamp, tolerating dot separators.
func ParseTimestamp(s string) (time.Duration, error) {
	m := timestampPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid SRT timestamp: %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	// "5" means 500ms, "55" means 550ms; right-pad to three digits.
	msStr := m[4] + strings.Repeat("0", 3-len(m[4]))
	ms, _ := strconv.Atoi(msStr)

	return time.Duration(h)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// FormatTimestamp renders the canonical HH:MM:SS,mmm form.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Parse reads an SRT document into segments. Indices are renumbered
// sequentially; blank cues are dropped.
func Parse(r io.Reader) ([]Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var segments []Segment
	var current *Segment
	sawTiming := false

	flush := func() {
		if current != nil && sawTiming && len(current.Lines) > 0 {
			current.Index = len(segments) + 1
			segments = append(segments, *current)
		}
		current = nil
		sawTiming = false
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		if m := cueTimingPattern.FindStringSubmatch(line); m != nil {
			flush()
			start, err := ParseTimestamp(m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			end, err := ParseTimestamp(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current = &Segment{Start: start, End: end}
			sawTiming = true
			continue
		}

		if current == nil {
			// Index line before the timing line; the value is ignored and
			// renumbered on output.
			if _, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
				continue
			}
			// Text with no cue; malformed but harmless, skip.
			continue
		}
		if !sawTiming {
			continue
		}
		current.Lines = append(current.Lines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read SRT: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no subtitle segments found")
	}
	return segments, nil
}

// ParseString parses an SRT document held in memory.
func ParseString(s string) ([]Segment, error) {
	return Parse(strings.NewReader(s))
}

// Build renders segments back to canonical SRT text. Build then Parse yields
// the same segments.
func Build(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
		for _, line := range seg.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Normalize parses and rebuilds an SRT document, fixing sloppy timestamp
// formats and renumbering cues.
func Normalize(content string) (string, error) {
	segments, err := ParseString(content)
	if err != nil {
		return "", err
	}
	return Build(segments), nil
}
