package reward

import (
	"errors"
	"fmt"
	"time"
)

// Business-rule rejections. They are always returned wrapped in a
// *RejectionError.
var (
	ErrAlreadyReferred  = errors.New("user was already referred")
	ErrSelfReferral     = errors.New("users cannot refer themselves")
	ErrReferrerNotFound = errors.New("referrer not found")
	ErrAlreadyCheckedIn = errors.New("already checked in today")
	ErrCooldownActive   = errors.New("random reward cooldown active")
)

// RejectionError reports why an action is not allowed right now. Remaining is
// set when the action becomes available again after a wait.
type RejectionError struct {
	Reason    error
	Remaining time.Duration
}

func (e *RejectionError) Error() string {
	if e.Remaining > 0 {
		return fmt.Sprintf("%v (%s remaining)", e.Reason, e.Remaining)
	}
	return e.Reason.Error()
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

func reject(reason error, remaining time.Duration) error {
	return &RejectionError{Reason: reason, Remaining: remaining}
}

// IsRejection reports whether err is a business-rule rejection.
func IsRejection(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}
