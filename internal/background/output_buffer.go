package background

import (
	"regexp"
	"strings"
	"sync"
)

// defaultRingBufferLines bounds how many output lines a background process
// keeps. Large enough for a long build log, small enough that a runaway
// `yes` cannot grow without bound.
const defaultRingBufferLines = 10_000

// OutputBuffer is a line-oriented bounded FIFO over a process's combined
// stdout/stderr. It implements io.Writer for direct use as cmd.Stdout and
// cmd.Stderr; once the line cap is reached the oldest lines are dropped.
// Reads copy, so a snapshot never races the writer goroutine.
type OutputBuffer struct {
	mu        sync.Mutex
	lines     []string
	partial   strings.Builder // bytes of the current, not-yet-terminated line
	max       int
	truncated bool
}

// NewOutputBuffer creates a buffer capped at max lines (<= 0 falls back to
// the default cap).
func NewOutputBuffer(max int) *OutputBuffer {
	if max <= 0 {
		max = defaultRingBufferLines
	}
	return &OutputBuffer{max: max}
}

// Write splits p into lines on '\n'. A trailing fragment without a newline
// is held back and completed by the next Write (or surfaced as the final
// line by readers).
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		if c == '\n' {
			b.appendLineLocked(b.partial.String())
			b.partial.Reset()
			continue
		}
		b.partial.WriteByte(c)
	}
	return len(p), nil
}

func (b *OutputBuffer) appendLineLocked(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		drop := len(b.lines) - b.max
		b.lines = append(b.lines[:0:0], b.lines[drop:]...)
		b.truncated = true
	}
}

// snapshotLocked returns all buffered lines, including the in-progress
// partial line, as a fresh slice.
func (b *OutputBuffer) snapshotLocked() []string {
	out := append([]string(nil), b.lines...)
	if b.partial.Len() > 0 {
		out = append(out, b.partial.String())
	}
	return out
}

// GetLines returns the last count lines, optionally keeping only lines
// matching filter (a regular expression). count <= 0 returns every
// buffered line. An invalid filter is reported as an error rather than
// silently matching nothing.
func (b *OutputBuffer) GetLines(count int, filter string) ([]string, error) {
	var re *regexp.Regexp
	if filter != "" {
		compiled, err := regexp.Compile(filter)
		if err != nil {
			return nil, err
		}
		re = compiled
	}

	b.mu.Lock()
	lines := b.snapshotLocked()
	b.mu.Unlock()

	if re != nil {
		matched := lines[:0:0]
		for _, line := range lines {
			if re.MatchString(line) {
				matched = append(matched, line)
			}
		}
		lines = matched
	}

	if count > 0 && len(lines) > count {
		lines = lines[len(lines)-count:]
	}
	return lines, nil
}

// Len reports the number of buffered lines (the in-progress partial line
// counts once it has content). Always <= the configured cap plus the
// partial line.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.lines)
	if b.partial.Len() > 0 {
		n++
	}
	return n
}

// Truncated reports whether the cap has ever forced old lines out.
func (b *OutputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// String joins the full buffer for callers that want one blob (snapshots,
// transcripts).
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	lines := b.snapshotLocked()
	b.mu.Unlock()
	return strings.Join(lines, "\n")
}

// TailString joins the last n lines.
func (b *OutputBuffer) TailString(n int) string {
	lines, _ := b.GetLines(n, "")
	return strings.Join(lines, "\n")
}
