package cli

import (
	"errors"
	"fmt"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
)

// exitInterrupted is the conventional status after SIGINT.
const exitInterrupted = 130

// ExitError carries the status toolctl should exit with after a tool run
// that did not succeed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("tool exited with code %d", e.Code)
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// resultError converts a finished run into the command's error.
func resultError(r controller.Result) error {
	switch {
	case r.Err != nil && len(r.Cmdline) == 0:
		return fmt.Errorf("run: %w", r.Err)
	case r.Err != nil:
		return fmt.Errorf("run %s: %w", controller.FormatCmdline(r.Cmdline), r.Err)
	case r.StoppedByUser:
		return &ExitError{Code: exitInterrupted}
	case r.ExitCode < 0:
		// killed by a signal
		return &ExitError{Code: 1}
	case r.ExitCode != 0:
		return &ExitError{Code: r.ExitCode}
	}
	return nil
}
