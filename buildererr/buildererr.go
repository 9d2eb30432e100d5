// Package buildererr defines the single error type the rest of jhm raises.
package buildererr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a BuildError, per the error kinds the engine distinguishes.
type Kind string

// The error kinds the engine can raise. All are fatal to the build.
const (
	Configuration    Kind = "configuration"
	Environment      Kind = "environment"
	Resolution       Kind = "resolution"
	Producer         Kind = "producer"
	ExternalCommand  Kind = "external-command"
	InternalInvariant Kind = "internal-invariant"
	IncompleteBuild  Kind = "incomplete-build"
)

// Command captures the argv/result of a failed external command, reported
// verbatim even when command echoing was off.
type Command struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// BuildError is the single error type surfaced to the CLI. Every package in
// this module that can fail returns one of these (or wraps one).
type BuildError struct {
	Kind    Kind
	Message string
	Command *Command
	cause   error
}

func (e *BuildError) Error() string {
	if e.Command != nil {
		return fmt.Sprintf("%s: %s (argv=%v exit=%d)\nstdout:\n%s\nstderr:\n%s",
			e.Kind, e.Message, e.Command.Argv, e.Command.ExitCode, e.Command.Stdout, e.Command.Stderr)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Cause returns the wrapped underlying error, if any, so that pkg/errors'
// Cause()/stack-trace machinery keeps working through a BuildError.
func (e *BuildError) Cause() error { return e.cause }

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *BuildError) Unwrap() error { return e.cause }

// New creates a BuildError with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *BuildError {
	return &BuildError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a BuildError that wraps an existing error, preserving a
// stack trace via pkg/errors so --jhm-debug can print one.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *BuildError {
	return &BuildError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// CommandError builds an ExternalCommand BuildError with the failing argv and
// captured output attached.
func CommandError(argv []string, exitCode int, stdout, stderr string, cause error) *BuildError {
	return &BuildError{
		Kind:    ExternalCommand,
		Message: fmt.Sprintf("command failed: %v", argv),
		Command: &Command{Argv: argv, ExitCode: exitCode, Stdout: stdout, Stderr: stderr},
		cause:   cause,
	}
}

// StackTrace exposes the underlying pkg/errors stack trace when the cause
// carries one, for --jhm-debug.
func (e *BuildError) StackTrace() errors.StackTrace {
	type stackTracer interface{ StackTrace() errors.StackTrace }
	if st, ok := e.cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}
