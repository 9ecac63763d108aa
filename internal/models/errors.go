// -----------------------------------------------------------------------
// Workflow error taxonomy
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that abort a supervised run.
type ErrorKind string

const (
	KindAuthentication  ErrorKind = "authentication"
	KindNavigation      ErrorKind = "navigation"
	KindQueryRace       ErrorKind = "query_race"
	KindUIState         ErrorKind = "ui_state"
	KindDownloadTimeout ErrorKind = "download_timeout"
	KindDatasetIO       ErrorKind = "dataset_io"
)

// Sentinels for errors.Is matching against a WorkflowError's kind.
var (
	ErrAuthentication  = errors.New("authentication error")
	ErrNavigation      = errors.New("navigation error")
	ErrQueryRace       = errors.New("query race error")
	ErrUIState         = errors.New("ui state error")
	ErrDownloadTimeout = errors.New("download timeout error")
	ErrDatasetIO       = errors.New("dataset io error")

	// ErrSessionDead is returned by any operation on a closed session.
	ErrSessionDead = errors.New("portal session is dead")
)

var kindSentinels = map[ErrorKind]error{
	KindAuthentication:  ErrAuthentication,
	KindNavigation:      ErrNavigation,
	KindQueryRace:       ErrQueryRace,
	KindUIState:         ErrUIState,
	KindDownloadTimeout: ErrDownloadTimeout,
	KindDatasetIO:       ErrDatasetIO,
}

// WorkflowError carries the kind of failure, the operation that failed and
// the underlying cause.
type WorkflowError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewWorkflowError builds a WorkflowError.
func NewWorkflowError(kind ErrorKind, op string, err error) *WorkflowError {
	return &WorkflowError{Kind: kind, Op: op, Err: err}
}

func (e *WorkflowError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel, so errors.Is(err, ErrUIState) works through
// any amount of wrapping.
func (e *WorkflowError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of the first WorkflowError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind, true
	}
	return "", false
}
