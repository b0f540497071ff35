// Package toolregistry implements the name-to-tool capability lookup
// consumed by the Tool Executor. Concrete tools are external
// collaborators; this package only defines the Tool contract and the
// registry that looks tools up by name.
package toolregistry

import "context"

// ErrorKind classifies a tool execution failure.
type ErrorKind string

const (
	ErrInvalidArguments ErrorKind = "invalid_arguments"
	ErrExecutionFailed  ErrorKind = "execution_failed"
	ErrUnavailable      ErrorKind = "unavailable"
)

// Error is a structured tool failure. It implements the error interface so
// it can be returned or wrapped like any other Go error, while retaining
// the Kind the orchestrator needs to map into the workflow error taxonomy.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// NewError constructs a tool Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Result is the outcome of a single Tool.Execute call. Exactly one of
// Output or Error is populated.
type Result struct {
	Success bool
	Output  any
	Error   *Error
}

// Tool exposes a single external capability. Implementations must be
// side-effect-isolating (one Execute call must not affect another) and
// safe for concurrent use; long-running work is the tool's own problem,
// not the orchestrator's.
type Tool interface {
	// Execute runs the tool against the given structured arguments.
	Execute(ctx context.Context, arguments map[string]any) Result
}

// SchemaProvider is an optional capability a Tool may implement to expose a
// JSON Schema describing its expected arguments. Neither Registry.Register
// nor the Tool Executor reads it: the Tool Executor validates only against
// schemas compiled into its ArgumentValidator (ArgumentValidator.Compile),
// so a tool's ArgumentSchema takes effect only once it is compiled there.
// A compiled schema violation surfaces as ErrInvalidArguments without the
// tool being invoked.
type SchemaProvider interface {
	// ArgumentSchema returns the tool's argument JSON Schema as a raw JSON
	// document, or nil if the tool does not constrain its arguments.
	ArgumentSchema() []byte
}
