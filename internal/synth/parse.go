package synth

import (
	"encoding/json"
	"strings"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// ParseFirstJSONObject finds the first balanced {...} in text that decodes
// as a FileSet with at least one non-empty slot. Surrounding prose and code
// fences are ignored, as are unknown keys. It never panics on malformed
// input; ok is false when nothing usable is found.
func ParseFirstJSONObject(text string) (models.FileSet, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			var fs models.FileSet
			if err := json.Unmarshal([]byte(text[start:end+1]), &fs); err == nil && !fs.Empty() {
				return fs, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return models.FileSet{}, false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are skipped.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
