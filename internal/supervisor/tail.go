package supervisor

import "strings"

// tailBuffer keeps the most recent output lines within a byte budget. The
// joined contents become the job's persisted log snippet.
type tailBuffer struct {
	max   int
	lines []string
	size  int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

// Add appends a line, evicting oldest lines until the budget holds. A single
// line longer than the budget is kept alone, truncated from the front.
func (t *tailBuffer) Add(line string) {
	if t.max <= 0 {
		return
	}
	t.lines = append(t.lines, line)
	t.size += len(line) + 1

	for t.size > t.max && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
	if t.size > t.max && len(t.lines) == 1 {
		line := t.lines[0]
		t.lines[0] = line[len(line)-t.max:]
		t.size = t.max
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
