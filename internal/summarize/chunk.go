// Package summarize reduces ordered text chunks into one summary and turns
// summaries into standardized records.
package summarize

import "strings"

// SplitWords cuts text into windows of size words, each starting overlap
// words before the previous window ended. Empty text yields no chunks.
func SplitWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size < 1 {
		size = len(words)
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
