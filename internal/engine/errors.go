package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/dvbsched/internal/conflict"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

var (
	ErrConflict       = errors.New("engine: timer overlaps an existing timer")
	ErrStartsInPast   = errors.New("engine: timer starts too far in the past")
	ErrInvalidChannel = errors.New("engine: unknown channel")
	ErrNotFound       = errors.New("engine: timer not found")
	ErrUnreachable    = errors.New("engine: recorder unreachable")
	ErrUnknownGroup   = errors.New("engine: unknown device group")
	ErrInvalidRequest = errors.New("engine: invalid request")
)

// Error carries the context of a failed request. errors.Is matches both the
// engine sentinel and the underlying cause.
type Error struct {
	Sentinel error
	Op       string
	Group    timer.GroupID
	TimerID  timer.ID
	// ConflictingID is the lowest overlapping timer, when known.
	ConflictingID timer.ID
	// AllowedSkew is set for ErrStartsInPast.
	AllowedSkew time.Duration
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (group %d): %v", e.Op, e.Group, e.Sentinel)
	switch {
	case e.ConflictingID != 0:
		msg = fmt.Sprintf("%s (conflicts with timer %d)", msg, e.ConflictingID)
	case e.AllowedSkew > 0:
		msg = fmt.Sprintf("%s (allowed skew %s)", msg, e.AllowedSkew)
	case e.TimerID != 0:
		msg = fmt.Sprintf("%s (timer %d)", msg, e.TimerID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// fromResult converts a local refusal by the conflict checker.
func fromResult(op string, group timer.GroupID, res conflict.Result) error {
	switch res.Kind {
	case conflict.KindOverlaps:
		return &Error{Sentinel: ErrConflict, Op: op, Group: group, ConflictingID: res.ConflictingID}
	case conflict.KindStartsInPast:
		return &Error{Sentinel: ErrStartsInPast, Op: op, Group: group, AllowedSkew: res.AllowedSkew}
	default:
		return nil
	}
}

// fromRecorder maps a facade error onto the engine taxonomy.
func fromRecorder(op string, group timer.GroupID, id timer.ID, err error) error {
	e := &Error{Op: op, Group: group, TimerID: id, Err: err}
	switch {
	case errors.Is(err, recorder.ErrConflict):
		e.Sentinel = ErrConflict
		var rerr *recorder.Error
		if errors.As(err, &rerr) {
			e.ConflictingID = rerr.TimerID
		}
	case errors.Is(err, recorder.ErrInvalidChannel):
		e.Sentinel = ErrInvalidChannel
	case errors.Is(err, recorder.ErrNotFound):
		e.Sentinel = ErrNotFound
	default:
		e.Sentinel = ErrUnreachable
	}
	return e
}

func invalid(op string, group timer.GroupID, format string, args ...any) error {
	return &Error{Sentinel: ErrInvalidRequest, Op: op, Group: group, Err: fmt.Errorf(format, args...)}
}

// OutcomeLabel classifies err for metrics and the journal.
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStartsInPast):
		return "starts_in_past"
	case errors.Is(err, ErrInvalidChannel):
		return "invalid_channel"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrUnknownGroup):
		return "unknown_group"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
