package client

import (
	"errors"
	"fmt"

	"github.com/jeffwatkins/Pterodactyl/domain"
)

var (
	// ErrServerNotFound means no response arrived: the relay is not
	// listening, the connection dropped, or the wait timed out.
	ErrServerNotFound = errors.New("pterodactyl: server not found")
	// ErrRequestFailed means the relay answered with something other than
	// success, or the request could not be built.
	ErrRequestFailed = errors.New("pterodactyl: request failed")
)

// RequestError describes a failed call. Kind is one of the sentinels above
// and is matched by errors.Is.
type RequestError struct {
	Kind     error
	Endpoint domain.Endpoint
	Status   int
	Body     string
	Err      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// CommandExecutionError is returned when the relay ran the external tool and
// at least one invocation failed or timed out. It matches ErrRequestFailed.
type CommandExecutionError struct {
	Endpoint domain.Endpoint
	Status   int
	Message  string
	Results  []domain.CommandResult
}

func (e *CommandExecutionError) Error() string {
	failed := domain.FailureResponse{Results: e.Results}.Failed()
	msg := fmt.Sprintf("%s: %s (status %d)", e.Endpoint, e.Message, e.Status)
	if len(failed) > 0 {
		first := failed[0]
		msg += fmt.Sprintf(": %s exited %d", first.Command, first.ExitCode)
		if first.Output != "" {
			msg += ": " + first.Output
		}
	}
	return msg
}

func (e *CommandExecutionError) Is(target error) bool {
	return target == ErrRequestFailed
}

// TimedOut reports whether any invocation hit the relay's command timeout.
func (e *CommandExecutionError) TimedOut() bool {
	for _, r := range e.Results {
		if r.TimedOut {
			return true
		}
	}
	return false
}
