package shared

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition indicates status change not allowed.
var ErrInvalidTransition = errors.New("status transition invalid")

// Transitions maps a status to the statuses reachable from it. Override
// lists transitions that are only allowed to privileged actors.
type Transitions struct {
	Allowed  map[string][]string
	Override map[string][]string
}

// Validate checks a status change. Staying in place is always allowed.
func (t Transitions) Validate(current, target string, hasOverride bool) error {
	if current == target {
		return nil
	}
	if slices.Contains(t.Allowed[current], target) {
		return nil
	}
	if hasOverride && slices.Contains(t.Override[current], target) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

// Terminal reports whether no transition leaves status.
func (t Transitions) Terminal(status string) bool {
	return len(t.Allowed[status]) == 0
}

