package planner

import (
	"regexp"
	"strings"
)

// listMarker matches a leading numbered ("1.", "1)", "12 -") or bulleted
// ("-", "*", "•") list marker so the parser tolerates any of the common
// formats an LLM might use when asked for an ordered list.
var listMarker = regexp.MustCompile(`^\s*(?:[0-9]+(?:[.)]|\s*-)|[-*•])\s*`)

// commentaryMarker flags a line that reads as trailing prose rather than a
// list item (for example, a model that appends "Let me know if you'd like
// adjustments." after the list). Once such a line is seen, parsing stops:
// everything from that line on is considered trailing commentary.
var commentaryMarker = regexp.MustCompile(`(?i)^(note|in summary|let me know|please|i hope|these steps)`)

// ParseSteps extracts an ordered list of step descriptions from raw LLM
// output. It tolerates numbered, bulleted, or plain-line formats; blank
// lines are ignored; once a line looks like trailing commentary, the
// remainder of the text is discarded.
func ParseSteps(text string) []string {
	lines := strings.Split(text, "\n")
	steps := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if commentaryMarker.MatchString(trimmed) {
			break
		}
		stripped := strings.TrimSpace(listMarker.ReplaceAllString(trimmed, ""))
		if stripped == "" {
			continue
		}
		steps = append(steps, stripped)
	}
	return steps
}
