package workflow

import "strings"

// DefaultToolKeywords lists the domain verbs whose presence in a step
// description routes it to the tool-invoking executor rather than the
// generic LLM reasoner.
var DefaultToolKeywords = []string{
	"search", "fetch", "download", "upload", "read", "write", "save", "load",
	"query", "insert", "send", "notify", "deploy", "install", "parse",
	"extract", "convert", "analyze", "transform", "generate", "build", "test",
	"validate", "monitor", "backup", "sync", "copy",
}

// Classifier is a pure function mapping a step description to its Kind.
// Classify(s) called repeatedly on the same s always yields the same Kind.
type Classifier struct {
	keywords map[string]struct{}
}

// NewClassifier constructs a Classifier over the given keyword set. A nil or
// empty set falls back to DefaultToolKeywords.
func NewClassifier(keywords []string) *Classifier {
	if len(keywords) == 0 {
		keywords = DefaultToolKeywords
	}
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[strings.ToLower(k)] = struct{}{}
	}
	return &Classifier{keywords: set}
}

// Classify lower-cases and tokenizes description, then checks for
// membership of any configured tool keyword. A match yields KindTool; no
// match yields KindGeneric. Ties (multiple keyword hits) still resolve to
// KindTool — there is only one tool branch to tie toward.
func (c *Classifier) Classify(description string) Kind {
	lower := strings.ToLower(description)
	for _, tok := range tokenize(lower) {
		if _, ok := c.keywords[tok]; ok {
			return KindTool
		}
	}
	return KindGeneric
}

// tokenize splits on anything that isn't a letter or digit, so keywords
// are matched against whole words rather than substrings: neither
// "searching" nor "research" matches "search".
func tokenize(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		isWord := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isWord {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}
