package abuse

import (
	"errors"
	"fmt"
	"time"
)

var errBlockedSentinel = errors.New("abuse: blocked")

// ErrBlocked is returned for a rejected outbound send; Reason names the
// rule that tripped, Remaining is how much longer the mute lasts.
type ErrBlocked struct {
	Reason    string
	Remaining time.Duration
}

func (e *ErrBlocked) Error() string {
	return fmt.Sprintf("abuse: blocked (%s), %s remaining", e.Reason, e.Remaining)
}

func (e *ErrBlocked) Unwrap() error { return errBlockedSentinel }

// IsBlocked reports whether err is or wraps an *ErrBlocked, without
// callers needing the exact Remaining/Reason values.
func IsBlocked(err error) bool {
	return errors.Is(err, errBlockedSentinel)
}
