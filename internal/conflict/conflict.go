// Package conflict decides whether a candidate timer may join a group's
// schedule. The check is advisory; the recorder daemon re-checks on commit.
package conflict

import (
	"fmt"
	"time"

	"github.com/ManuGH/dvbsched/internal/timer"
)

// DefaultGrace is how far in the past a start may lie ("record now" slop).
const DefaultGrace = time.Hour

// Policy selects which overlaps count as conflicts.
type Policy string

const (
	// PolicySingleTuner treats a group as one tuner: any overlap conflicts.
	PolicySingleTuner Policy = "single-tuner"
	// PolicySameChannel only rejects overlaps on the same channel.
	PolicySameChannel Policy = "same-channel"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySingleTuner, PolicySameChannel:
		return Policy(s), nil
	case "":
		return PolicySingleTuner, nil
	default:
		return "", fmt.Errorf("conflict: unknown policy %q", s)
	}
}

// Kind is the outcome class of a check.
type Kind int

const (
	KindOK Kind = iota
	KindOverlaps
	KindStartsInPast
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindOverlaps:
		return "overlaps"
	case KindStartsInPast:
		return "starts_in_past"
	default:
		return "unknown"
	}
}

// Result is the outcome of Check. A rejection is a value, not an error.
type Result struct {
	Kind Kind
	// ConflictingID is set for KindOverlaps.
	ConflictingID timer.ID
	// AllowedSkew is set for KindStartsInPast.
	AllowedSkew time.Duration
}

// OK reports whether the candidate may be submitted.
func (r Result) OK() bool { return r.Kind == KindOK }

func (r Result) String() string {
	switch r.Kind {
	case KindOverlaps:
		return fmt.Sprintf("overlaps timer %d", r.ConflictingID)
	case KindStartsInPast:
		return fmt.Sprintf("starts more than %s in the past", r.AllowedSkew)
	default:
		return r.Kind.String()
	}
}

// Checker holds the tunables of the check. The zero value uses the defaults.
type Checker struct {
	Grace  time.Duration
	Policy Policy
}

// New returns a checker with an explicit grace window and policy.
func New(grace time.Duration, policy Policy) Checker {
	return Checker{Grace: grace, Policy: policy}
}

func (c Checker) grace() time.Duration {
	if c.Grace <= 0 {
		return DefaultGrace
	}
	return c.Grace
}

// Check validates candidate against existing at now.
//
// The past-start rule runs first: reject iff now - start > grace.
// Overlap uses half-open intervals; among several conflicting timers the
// lowest id is reported. An existing timer with the candidate's own non-zero
// id is skipped, which lets reschedules be checked against the rest.
func (c Checker) Check(existing []timer.Timer, candidate timer.Timer, now time.Time) Result {
	grace := c.grace()
	if timer.Naive(now).Sub(candidate.Start.Time()) > grace {
		return Result{Kind: KindStartsInPast, AllowedSkew: grace}
	}

	var (
		found bool
		lowID timer.ID
	)
	for _, other := range existing {
		if candidate.ID != 0 && other.ID == candidate.ID {
			continue
		}
		if c.Policy == PolicySameChannel && other.Channel != candidate.Channel {
			continue
		}
		if !candidate.Overlaps(other) {
			continue
		}
		if !found || other.ID < lowID {
			found = true
			lowID = other.ID
		}
	}
	if found {
		return Result{Kind: KindOverlaps, ConflictingID: lowID}
	}
	return Result{Kind: KindOK}
}
