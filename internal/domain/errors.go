package domain

import (
	"errors"
	"fmt"
)

// ErrClassificationGap marks a payload that lacks a field the classifier
// needs. It is always recovered and treated as Ignore.
var ErrClassificationGap = errors.New("classification gap")

// FetchError reports a failed media download.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch media: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("fetch media: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecryptionError reports a key, length, padding or MAC failure.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return "decrypt media: " + e.Reason + ": " + e.Err.Error()
	}
	return "decrypt media: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// TranscriptionError reports a transcription adapter failure.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcribe: " + e.Err.Error() }

func (e *TranscriptionError) Unwrap() error { return e.Err }

// RunFailedError reports an assistant run that ended in a non-completed
// terminal status.
type RunFailedError struct {
	RunID   string
	Status  RunStatus
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("run %s %s: %s: %s", e.RunID, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Status)
}

// DispatchError reports a failed outbound send. It is logged, never returned
// past the dispatcher.
type DispatchError struct {
	Destination string
	StatusCode  int
	Err         error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch to %s: HTTP %d", e.Destination, e.StatusCode)
	}
	return fmt.Sprintf("dispatch to %s: %v", e.Destination, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
