package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRequestNotFound  = errors.New("match request not found")
	ErrForbidden        = errors.New("match request belongs to another user")
	ErrInvalidRequest   = errors.New("invalid match request")
	ErrDuplicateStream  = errors.New("a live status stream is already open for this request")
	ErrStoreUnavailable = errors.New("shared store unavailable")
	ErrUpstream         = errors.New("session creation failed")
)

// DuplicateRequestError is returned when a user tries to create a second
// request while one is still queued. It carries the existing request id so
// the caller can resume it instead.
type DuplicateRequestError struct {
	ReqID string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("user already has an active match request %s", e.ReqID)
}

// AlreadyMatchedError is returned when cancelling a request that was already
// matched. The caller should join the carried session instead.
type AlreadyMatchedError struct {
	SessionID string
}

func (e *AlreadyMatchedError) Error() string {
	return fmt.Sprintf("request already matched into session %s", e.SessionID)
}
