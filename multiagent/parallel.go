package multiagent

import (
	"regexp"
	"strings"

	"github.com/taskflow-run/orchestrator/workflow"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9]{3,}`)

var stopwords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "then": true,
	"into": true, "will": true, "have": true, "about": true, "their": true,
	"after": true, "using": true, "each": true, "step": true,
}

func significantTokens(description string) map[string]bool {
	tokens := make(map[string]bool)
	for _, raw := range tokenPattern.FindAllString(strings.ToLower(description), -1) {
		if stopwords[raw] {
			continue
		}
		tokens[raw] = true
	}
	return tokens
}

func overlaps(a, b map[string]bool) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for t := range small {
		if large[t] {
			return true
		}
	}
	return false
}

// PartitionWaves groups plan steps into waves for concurrent execution.
// Two steps share a wave only when the partitioner can show, via token
// overlap between their descriptions, that one does not reference the
// other. If no pair in the entire plan shows any overlap signal at all,
// there is no basis to believe any two steps are safely independent, so
// the partitioner falls back to one step per wave (fully sequential).
func PartitionWaves(steps []workflow.Step) [][]workflow.Step {
	n := len(steps)
	if n == 0 {
		return nil
	}
	tokens := make([]map[string]bool, n)
	for i, s := range steps {
		tokens[i] = significantTokens(s.Description)
	}

	anySignal := false
	dependsOn := make([][]bool, n)
	for j := 1; j < n; j++ {
		dependsOn[j] = make([]bool, j)
		for i := 0; i < j; i++ {
			if overlaps(tokens[j], tokens[i]) {
				dependsOn[j][i] = true
				anySignal = true
			}
		}
	}

	if !anySignal {
		waves := make([][]workflow.Step, n)
		for i, s := range steps {
			waves[i] = []workflow.Step{s}
		}
		return waves
	}

	waveOf := make([]int, n)
	maxWave := 0
	for j := 0; j < n; j++ {
		hasDependency := false
		wave := -1
		for i := 0; i < j; i++ {
			if dependsOn[j][i] {
				hasDependency = true
				if waveOf[i] > wave {
					wave = waveOf[i]
				}
			}
		}
		if !hasDependency {
			// No detected dependency on any earlier step: this step can
			// join the earliest wave rather than trailing the chain.
			waveOf[j] = 0
		} else {
			waveOf[j] = wave + 1
		}
		if waveOf[j] > maxWave {
			maxWave = waveOf[j]
		}
	}

	waves := make([][]workflow.Step, maxWave+1)
	for i, s := range steps {
		waves[waveOf[i]] = append(waves[waveOf[i]], s)
	}
	out := make([][]workflow.Step, 0, len(waves))
	for _, w := range waves {
		if len(w) > 0 {
			out = append(out, w)
		}
	}
	return out
}
