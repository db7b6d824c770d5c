package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the store, the service, the HTTP boundary and the
// client. Callers match them with errors.Is.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrThreadNotFound = errors.New("thread not found")
	ErrUnavailable    = errors.New("service unavailable")
	ErrReplyFailed    = errors.New("reply generation failed")
)

// ReplyFailure reports that the user turn was stored but no assistant reply
// was produced. Turns holds the stored sequence at the time of the failure.
type ReplyFailure struct {
	ThreadID string
	Turns    []*Turn
	Err      error
}

func (e *ReplyFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s for thread %s", ErrReplyFailed, e.ThreadID)
	}
	return fmt.Sprintf("%s for thread %s: %v", ErrReplyFailed, e.ThreadID, e.Err)
}

func (e *ReplyFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrReplyFailed}
	}
	return []error{ErrReplyFailed, e.Err}
}

type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "invalid_input"
	CodeNotFound     ErrorCode = "not_found"
	CodeUnavailable  ErrorCode = "unavailable"
	CodeReplyFailed  ErrorCode = "reply_failed"
	CodeInternal     ErrorCode = "internal"
)

func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrThreadNotFound):
		return CodeNotFound
	case errors.Is(err, ErrReplyFailed):
		return CodeReplyFailed
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// SentinelFor is the inverse of CodeOf, used by the HTTP client to rebuild
// the error kind from a response body.
func SentinelFor(code ErrorCode) error {
	switch code {
	case CodeInvalidInput:
		return ErrInvalidInput
	case CodeNotFound:
		return ErrThreadNotFound
	case CodeUnavailable:
		return ErrUnavailable
	case CodeReplyFailed:
		return ErrReplyFailed
	default:
		return nil
	}
}
