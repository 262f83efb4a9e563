package files

import "strings"

// countLines returns the number of lines in content, counting a trailing
// partial line (one not terminated by \n) as a line of its own. An empty
// string has zero lines.
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := strings.Count(string(content), "\n")
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// splitLines splits content into its lines without the trailing newline,
// preserving a final unterminated line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	trimmed := strings.HasSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	if trimmed {
		lines = lines[:len(lines)-1]
	}
	return lines
}
