package payment

import (
	"errors"
	"fmt"
)

// ErrNotInRequiredStatus is returned when a guarded transition is attempted
// from the wrong state. Callers map it to a precondition failure.
var ErrNotInRequiredStatus = errors.New("payment is not in the required status")

// Action names a requested lifecycle transition.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionProcess Action = "process"
	ActionFail    Action = "fail"
)

// guards lists, per guarded action, the statuses the record must currently
// hold. Fail and the raw status-set path are deliberately absent: both are
// unconditional, including paid -> failed.
var guards = map[Action][]Status{
	ActionApprove: {ApplicationPending},
	ActionReject:  {ApplicationPending},
	ActionProcess: {Pending},
}

// results maps each action to the status it lands in.
var results = map[Action]Status{
	ActionApprove: Pending,
	ActionReject:  ApplicationRejected,
	ActionProcess: Paid,
	ActionFail:    Failed,
}

// CanTransition reports whether action is allowed from the given status.
func CanTransition(from Status, action Action) bool {
	required, guarded := guards[action]
	if !guarded {
		return true
	}
	for _, s := range required {
		if s == from {
			return true
		}
	}
	return false
}

// Transition validates the action against the current status and returns the
// resulting status. The record is not touched; callers apply the result
// inside their storage mutator.
func Transition(from Status, action Action) (Status, error) {
	if !CanTransition(from, action) {
		return from, fmt.Errorf("%s from %q: %w", action, from, ErrNotInRequiredStatus)
	}
	next, ok := results[action]
	if !ok {
		return from, fmt.Errorf("unknown action %q", action)
	}
	return next, nil
}

// KnownStatus reports whether s is one of the five defined lifecycle states.
// The manual status-set endpoint accepts and persists arbitrary strings, so
// this is informational, not an enforcement point.
func KnownStatus(s Status) bool {
	switch s {
	case ApplicationPending, ApplicationRejected, Pending, Paid, Failed:
		return true
	}
	return false
}
