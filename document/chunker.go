package document

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default window length in characters.
const DefaultChunkSize = 1000

// Split cuts content into consecutive windows of size characters with no
// overlap and drops windows that are empty or whitespace-only. The position
// of a window in the result is its chunk index.
func Split(content string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	windows := make([]string, 0, utf8.RuneCountInString(content)/size+1)
	start, count := 0, 0
	for i := range content {
		if count == size {
			windows = appendWindow(windows, content[start:i])
			start, count = i, 0
		}
		count++
	}
	if start < len(content) {
		windows = appendWindow(windows, content[start:])
	}
	return windows
}

func appendWindow(windows []string, w string) []string {
	if strings.TrimSpace(w) == "" {
		return windows
	}
	return append(windows, w)
}
