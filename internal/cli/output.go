package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"xdao.co/keycircle/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // operation failed (key unavailable, verification failed, ...)
	ExitCommandError = 2 // bad flags, unreadable config or files
)

// ExitError carries the process exit code for an error.
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

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// WriteError reports err on w in the given format.
func WriteError(w io.Writer, format string, err error) {
	if format == "json" {
		b, jerr := json.Marshal(struct {
			Status string            `json:"status"`
			Error  *model.CodedError `json:"error"`
		}{"error", model.FromError(err)})
		if jerr == nil {
			_, _ = fmt.Fprintln(w, string(b))
			return
		}
	}
	_, _ = fmt.Fprintf(w, "keycircle: %v\n", err)
}

// emit writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	text(w)
	return nil
}
