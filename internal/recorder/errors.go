package recorder

import (
	"errors"
	"fmt"

	"github.com/ManuGH/dvbsched/internal/timer"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrConflict       = errors.New("recorder: timer conflicts with an existing timer")
	ErrInvalidChannel = errors.New("recorder: channel not known to device group")
	ErrNotFound       = errors.New("recorder: timer not found")
	ErrUnreachable    = errors.New("recorder: daemon unreachable or transport failure")
)

// Error wraps a sentinel with the operation context it happened in.
type Error struct {
	Sentinel  error
	Operation string
	Group     timer.GroupID
	TimerID   timer.ID
	Err       error // transport-level cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("recorder: %s (group %d): %v", e.Operation, e.Group, e.Sentinel)
	if e.TimerID != 0 {
		msg = fmt.Sprintf("%s (timer %d)", msg, e.TimerID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// Unreachable wraps a transport failure.
func Unreachable(op string, group timer.GroupID, cause error) error {
	return &Error{Sentinel: ErrUnreachable, Operation: op, Group: group, Err: cause}
}

// NotFound reports a missing timer.
func NotFound(op string, group timer.GroupID, id timer.ID) error {
	return &Error{Sentinel: ErrNotFound, Operation: op, Group: group, TimerID: id}
}

// IsTransport reports whether err indicates the daemon could not be
// reached, as opposed to an in-domain refusal.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidChannel) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// ResultLabel maps err to a low-cardinality metric label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidChannel):
		return "invalid_channel"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unreachable"
	}
}
