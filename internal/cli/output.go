package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
)

// Exit codes for xsyncctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation itself failed
	ExitCommandError = 2 // bad flags or arguments, backend unavailable
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Plain errors map to
// ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope for every command.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type formatter struct {
	format string
	w      io.Writer
}

func newFormatter(opts *RootOptions, w io.Writer) *formatter {
	return &formatter{format: opts.Format, w: w}
}

// emit writes data as a JSON envelope, or calls text with a tabwriter.
func (f *formatter) emit(data any, text func(tw *tabwriter.Writer)) error {
	if f.format == "json" {
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

// fail reports err in the configured format and returns it for the exit code.
func (f *formatter) fail(err error) error {
	if f.format == "json" {
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(Response{Status: "error", Error: err.Error()})
	}
	return err
}
