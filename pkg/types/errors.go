package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MetadataNotFoundError is returned when a durable record is not found.
type MetadataNotFoundError struct {
	Key string
}

func (e *MetadataNotFoundError) Error() string {
	return fmt.Sprintf("metadata not found: %s", e.Key)
}

// ErrProjectTimeout is returned when a start or stop exceeds its ceiling.
// The persisted state has already been re-probed when the caller sees it.
type ErrProjectTimeout struct {
	ProjectId string
	Op        string
	Limit     time.Duration
}

func (e *ErrProjectTimeout) Error() string {
	return fmt.Sprintf("project %s: %s did not complete within %s", e.ProjectId, e.Op, e.Limit)
}

// From checks if the given error is an ErrProjectTimeout.
func (e *ErrProjectTimeout) From(err error) bool {
	var timeout *ErrProjectTimeout
	return errors.As(err, &timeout)
}

// ErrProbeIncomplete is returned when address()/status() cannot determine
// required connection details for a running project.
type ErrProbeIncomplete struct {
	ProjectId string
	Missing   []string
}

func (e *ErrProbeIncomplete) Error() string {
	return fmt.Sprintf("project %s: probe missing %s", e.ProjectId, strings.Join(e.Missing, ", "))
}

// ErrInvalidSignal is returned for signal numbers outside the allow-list.
type ErrInvalidSignal struct {
	Signal int
}

func (e *ErrInvalidSignal) Error() string {
	return fmt.Sprintf("invalid signal %d: allowed signals are 2 (SIGINT), 3 (SIGQUIT), 9 (SIGKILL)", e.Signal)
}
