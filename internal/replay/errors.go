package replay

import (
	"errors"
	"fmt"
)

// ReplayError is the failure of one entry within a pass.
//
// It never aborts the pass; its text becomes the Error of the entry's
// SyncLogRecord.
type ReplayError struct {
	// Code identifies the error category.
	Code ReplayErrorCode

	// Message is a human-readable description.
	Message string

	// EntryID identifies the failed entry.
	EntryID string

	// Kind is the entry label ("order" or the action kind).
	Kind string

	// Err is the underlying cause, if any.
	Err error
}

// ReplayErrorCode categorizes replay failures.
type ReplayErrorCode string

const (
	// ErrCodeRemoteFailure indicates the remote store rejected or failed the write.
	ErrCodeRemoteFailure ReplayErrorCode = "REMOTE_FAILURE"

	// ErrCodeTimeout indicates the remote call exceeded the per-entry timeout.
	ErrCodeTimeout ReplayErrorCode = "TIMEOUT"

	// ErrCodeUnknownAction indicates an action kind this build cannot replay.
	ErrCodeUnknownAction ReplayErrorCode = "UNKNOWN_ACTION"

	// ErrCodeInvalidPayload indicates a payload that cannot be applied.
	ErrCodeInvalidPayload ReplayErrorCode = "INVALID_PAYLOAD"

	// ErrCodePanic indicates a collaborator panicked while applying the entry.
	ErrCodePanic ReplayErrorCode = "PANIC"
)

// Error implements the error interface.
func (e *ReplayError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.EntryID != "" {
		msg += fmt.Sprintf(" (entry=%s)", e.EntryID)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReplayError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ReplayErrorCode) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsTimeout reports whether err is a per-entry timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsUnknownAction reports whether err is an unrecognised action kind.
func IsUnknownAction(err error) bool {
	return hasCode(err, ErrCodeUnknownAction)
}

// IsRemoteFailure reports whether err came from the remote store.
func IsRemoteFailure(err error) bool {
	return hasCode(err, ErrCodeRemoteFailure)
}

func newRemoteError(entryID, kind string, err error) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeRemoteFailure,
		Message: fmt.Sprintf("%s failed", kind),
		EntryID: entryID,
		Kind:    kind,
		Err:     err,
	}
}

func newTimeoutError(entryID, kind string, limit fmt.Stringer) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("%s exceeded %s", kind, limit),
		EntryID: entryID,
		Kind:    kind,
	}
}

func newUnknownActionError(entryID, kind string) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeUnknownAction,
		Message: fmt.Sprintf("unrecognised action type %q", kind),
		EntryID: entryID,
		Kind:    kind,
	}
}

func newInvalidPayloadError(entryID, kind, reason string, err error) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeInvalidPayload,
		Message: fmt.Sprintf("%s: %s", kind, reason),
		EntryID: entryID,
		Kind:    kind,
		Err:     err,
	}
}

func newPanicError(entryID, kind string, recovered any) *ReplayError {
	return &ReplayError{
		Code:    ErrCodePanic,
		Message: fmt.Sprintf("%s panicked: %v", kind, recovered),
		EntryID: entryID,
		Kind:    kind,
	}
}
