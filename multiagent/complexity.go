// Package multiagent implements the Multi-Agent Flow: an alternative
// workflow entry point that scores a task's complexity, picks an
// execution strategy (single, sequential, or parallel), and reports its
// own coarse, staged progress rather than the Workflow Engine's per-step
// granularity.
package multiagent

import (
	"strings"
)

// DefaultSingleMax and DefaultParallelMin are the recognized
// multi_agent.single_max / multi_agent.parallel_min configuration
// defaults.
const (
	DefaultSingleMax   = 0.33
	DefaultParallelMin = 0.66
)

// multiStepConjunctions signal that a task names more than one subtask in
// sequence.
var multiStepConjunctions = []string{"and then", "after that", "followed by", "once that", "then"}

// timeConsumingMarkers signal a task that is likely to take many steps or
// substantial reasoning, independent of its literal length.
var timeConsumingMarkers = []string{
	"comprehensive", "thoroughly", "in depth", "in-depth", "entire",
	"all of", "end to end", "end-to-end", "detailed", "exhaustive",
}

// ComplexityScore computes the [0.0, 1.0] complexity heuristic from the
// task string and the tool-keyword set also used by the step classifier.
// The score is a deterministic function of its inputs: identical task
// text and keyword set always produce the same score.
func ComplexityScore(task string, toolKeywords map[string]bool) float64 {
	lower := strings.ToLower(task)
	words := strings.Fields(lower)

	length := lengthSignal(len(words))
	conjunction := conjunctionSignal(lower)
	toolHits := toolKeywordSignal(words, toolKeywords)
	timeConsuming := timeConsumingSignal(lower)

	score := 0.25*length + 0.25*conjunction + 0.25*toolHits + 0.25*timeConsuming
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func lengthSignal(wordCount int) float64 {
	switch {
	case wordCount <= 8:
		return 0.1
	case wordCount <= 20:
		return 0.35
	case wordCount <= 40:
		return 0.6
	default:
		return 0.9
	}
}

func conjunctionSignal(lowerTask string) float64 {
	hits := 0
	for _, c := range multiStepConjunctions {
		if strings.Contains(lowerTask, c) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	score := 0.3 * float64(hits)
	if score > 1 {
		return 1
	}
	return score
}

func toolKeywordSignal(words []string, toolKeywords map[string]bool) float64 {
	if len(toolKeywords) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if toolKeywords[strings.Trim(w, ".,;:!?")] {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	score := 0.2 * float64(hits)
	if score > 1 {
		return 1
	}
	return score
}

func timeConsumingSignal(lowerTask string) float64 {
	for _, m := range timeConsumingMarkers {
		if strings.Contains(lowerTask, m) {
			return 1
		}
	}
	return 0
}

// Strategy is the closed set of execution modes the Multi-Agent Flow can
// select.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// SelectStrategy applies the score and the independent-step check to pick
// a Strategy. hasMultipleIndependentSteps is true when the caller already knows
// the plan has at least two steps that look independent (used to decide
// between parallel and sequential once the score alone qualifies for
// parallel); callers without a plan yet may pass true and let wave
// partitioning fall back to fully sequential waves if it turns out there
// is no real concurrency to exploit.
func SelectStrategy(score, singleMax, parallelMin float64, hasMultipleIndependentSteps bool) Strategy {
	if score <= singleMax {
		return StrategySingle
	}
	if score >= parallelMin && hasMultipleIndependentSteps {
		return StrategyParallel
	}
	return StrategySequential
}
