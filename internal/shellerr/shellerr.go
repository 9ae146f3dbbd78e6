// Package shellerr names the error taxonomy of the job-control engine, so
// the controller can switch on error identity with errors.As/errors.Is
// instead of matching message strings.
package shellerr

import "fmt"

// Kind identifies a class of engine error.
type Kind string

const (
	// Parse errors (spec.md §7, Parse).
	SyntaxRedirection   Kind = "SyntaxRedirection"
	SyntaxMissingCommand Kind = "SyntaxMissingCommand"
	SyntaxEmptyCommand  Kind = "SyntaxEmptyCommand"
	BuiltinInPipeline   Kind = "BuiltinInPipeline"

	// Launch errors.
	ForkFailed     Kind = "ForkFailed"
	PipeCreateFailed Kind = "PipeCreateFailed"
	SetpgidFailed  Kind = "SetpgidFailed"

	// Redirection and exec setup errors. OpenRedirectionFailed is
	// returned by the Launcher, which opens redirection files in the
	// shell process before starting the child.
	OpenRedirectionFailed Kind = "OpenRedirectionFailed"
	DupFailed             Kind = "DupFailed"
	ExecFailed            Kind = "ExecFailed"

	// Job control errors.
	NoSuchJob      Kind = "NoSuchJob"
	InvalidJobSpec Kind = "InvalidJobSpec"
	JobsFull       Kind = "JobsFull"
)

// Error is a typed engine error carrying its Kind and an optional detail.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New builds an *Error of the given kind with a formatted detail.
func New(kind Kind, format string, v ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, v...)}
}

// Is reports whether err is a shellerr.Error of the given kind, so callers
// can write shellerr.Is(err, shellerr.JobsFull).
func Is(err error, kind Kind) bool {
	var se *Error
	if e, ok := err.(*Error); ok {
		se = e
	} else {
		return false
	}
	return se.Kind == kind
}
