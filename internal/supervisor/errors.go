package supervisor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valvoice/backend/internal/events"
)

var (
	ErrStopped    = errors.New("supervisor stopped")
	ErrNotRunning = errors.New("interceptor not running")

	// ErrStartFailed is returned by Start after an earlier Start failed.
	ErrStartFailed = errors.New("interceptor start already failed")
)

// ExecutableNotFoundError means no candidate path held the interceptor.
type ExecutableNotFoundError struct {
	Name     string
	Searched []string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("interceptor executable %q not found (searched %s)", e.Name, strings.Join(e.Searched, ", "))
}

// StartupError is a fatal failure to launch or validate the interceptor.
type StartupError struct {
	Cause  events.FatalCause
	Code   int
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("interceptor startup failed (%s, code %d): %s", e.Cause, e.Code, e.Reason)
	}
	return fmt.Sprintf("interceptor startup failed (%s): %s", e.Cause, e.Reason)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// FatalCause maps any error returned by Start to the cause shown to the
// user. A missing executable counts as an internal failure.
func FatalCause(err error) (events.FatalCause, string) {
	var se *StartupError
	if errors.As(err, &se) {
		return se.Cause, se.Reason
	}
	return events.CauseInternal, err.Error()
}
