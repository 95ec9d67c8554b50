package scan

import (
	"bufio"
	"bytes"
	"regexp"
)

// componentPatterns extracts a best-effort "primary component name" —
// the top-level class/function/struct/component a file is organized
// around — for a handful of languages. Extraction is best-effort per
// spec.md §4.G ("not required for correctness"): the first match in the
// first sizePeek bytes wins, and a file with none simply gets "".
var componentPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`^(?:func|type)\s+(\w+)`),
	"python":     regexp.MustCompile(`^(?:def|class)\s+(\w+)`),
	"typescript": regexp.MustCompile(`^export\s+(?:default\s+)?(?:class|function|interface)\s+(\w+)`),
	"javascript": regexp.MustCompile(`^export\s+(?:default\s+)?(?:class|function)\s+(\w+)`),
	"rust":       regexp.MustCompile(`^(?:pub\s+)?(?:fn|struct|enum)\s+(\w+)`),
	"java":       regexp.MustCompile(`^(?:public|private)?\s*(?:class|interface)\s+(\w+)`),
}

const sizePeek = 64 << 10

// PrimaryComponent scans data's first sizePeek bytes line by line for
// typeName's component pattern, returning the first capture.
func PrimaryComponent(typeName string, data []byte) string {
	re, ok := componentPatterns[typeName]
	if !ok {
		return ""
	}
	if len(data) > sizePeek {
		data = data[:sizePeek]
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if m := re.FindSubmatch(line); m != nil {
			return string(m[1])
		}
	}
	return ""
}
