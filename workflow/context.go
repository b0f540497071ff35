package workflow

import "fmt"

// RollingContext accumulates a compact textual summary of successful step
// outputs, capped at a configurable character budget (default 4000). When
// the budget is exceeded, the oldest content is truncated first so the most
// recent steps remain visible to subsequent generic steps.
type RollingContext struct {
	budget int
	buf    string
}

// NewRollingContext constructs a RollingContext with the given character
// budget. A budget <= 0 falls back to the default of 4000.
func NewRollingContext(budget int) *RollingContext {
	if budget <= 0 {
		budget = 4000
	}
	return &RollingContext{budget: budget}
}

// Append adds a step's output summary to the rolling buffer, truncating
// from the head (oldest first) when the budget is exceeded.
func (c *RollingContext) Append(stepIndex int, summary string) {
	if summary == "" {
		return
	}
	entry := fmt.Sprintf("[step %d] %s\n", stepIndex, summary)
	c.buf += entry
	if len(c.buf) > c.budget {
		c.buf = c.buf[len(c.buf)-c.budget:]
	}
}

// String returns the current accumulated context.
func (c *RollingContext) String() string { return c.buf }

// Summarize renders a deterministic stringification of a step's structured
// output for context accumulation. Tool outputs are typically maps or
// slices; generic outputs are already text.
func Summarize(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
