package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	// ModeTemporary deactivates the item once Duration has elapsed.
	ModeTemporary Mode = "temporary"
	// ModeTimed applies Action at ExecuteTime, optionally repeating.
	ModeTimed Mode = "timed"
)

type Repeat string

const (
	RepeatOnce    Repeat = "once"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
)

var ErrRuleNotFound = errors.New("schedule rule not found")

// ValidationError rejects a RuleSpec.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule rule: %s %s", e.Field, e.Reason)
}

// RuleSpec is the caller-supplied part of a Rule.
type RuleSpec struct {
	ItemID      string
	Mode        Mode
	Duration    time.Duration
	ExecuteTime time.Time
	Repeat      Repeat
	Action      Action
}

func (spec RuleSpec) validate() error {
	if spec.ItemID == "" {
		return &ValidationError{Field: "itemId", Reason: "is required"}
	}
	switch spec.Mode {
	case ModeTemporary:
		if spec.Duration <= 0 {
			return &ValidationError{Field: "duration", Reason: "must be positive"}
		}
	case ModeTimed:
		if spec.ExecuteTime.IsZero() {
			return &ValidationError{Field: "executeTime", Reason: "is required"}
		}
		switch spec.Repeat {
		case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatMonthly:
		default:
			return &ValidationError{Field: "repeat", Reason: fmt.Sprintf("%q is not once, daily, weekly or monthly", spec.Repeat)}
		}
		switch spec.Action {
		case ActionActivate, ActionDeactivate:
		default:
			return &ValidationError{Field: "action", Reason: fmt.Sprintf("%q is not activate or deactivate", spec.Action)}
		}
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("%q is not temporary or timed", spec.Mode)}
	}
	return nil
}

// Rule is a persisted schedule entry. Duration is stored in nanoseconds.
type Rule struct {
	ID          string        `json:"id"`
	ItemID      string        `json:"itemId"`
	Mode        Mode          `json:"mode"`
	Duration    time.Duration `json:"duration,omitempty"`
	ExecuteTime time.Time     `json:"executeTime,omitzero"`
	Repeat      Repeat        `json:"repeat,omitempty"`
	Action      Action        `json:"action,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Deadline is when a temporary rule expires.
func (r Rule) Deadline() time.Time { return r.CreatedAt.Add(r.Duration) }

// Next returns the next fire time strictly after now. ok is false for a
// one-shot timed rule that has already passed. Temporary rules always
// report their deadline, even when overdue.
func (r Rule) Next(now time.Time) (time.Time, bool) {
	if r.Mode == ModeTemporary {
		return r.Deadline(), true
	}
	return NextTime(r.ExecuteTime, r.Repeat, now)
}

// IsActive reports whether the rule still has work to do at now.
func (r Rule) IsActive(now time.Time) bool {
	if r.Mode == ModeTemporary {
		return r.Deadline().After(now)
	}
	return r.ExecuteTime.After(now) || r.Repeat != RepeatOnce
}

// NextTime advances executeTime by whole periods of repeat until it is
// strictly after now. Months are added to the original time so day-of-month
// clamping never accumulates.
func NextTime(executeTime time.Time, repeat Repeat, now time.Time) (time.Time, bool) {
	if executeTime.After(now) {
		return executeTime, true
	}

	var step func(n int) time.Time
	var approx time.Duration
	switch repeat {
	case RepeatDaily:
		step = func(n int) time.Time { return executeTime.AddDate(0, 0, n) }
		approx = 24 * time.Hour
	case RepeatWeekly:
		step = func(n int) time.Time { return executeTime.AddDate(0, 0, 7*n) }
		approx = 7 * 24 * time.Hour
	case RepeatMonthly:
		step = func(n int) time.Time { return executeTime.AddDate(0, n, 0) }
		approx = 28 * 24 * time.Hour
	default:
		return time.Time{}, false
	}

	// Jump close to now, then walk; DST shifts keep the estimate within one
	// period of the answer.
	n := int(now.Sub(executeTime)/approx) - 1
	if n < 1 {
		n = 1
	}
	for {
		t := step(n)
		if t.After(now) {
			// The estimate may overshoot for months shorter than approx.
			for n > 1 && step(n-1).After(now) {
				n--
				t = step(n)
			}
			return t, true
		}
		n++
	}
}

type ruleJSON struct {
	ID          string     `json:"id"`
	ItemID      string     `json:"itemId"`
	Mode        Mode       `json:"mode"`
	Duration    int64      `json:"duration,omitempty"`
	ExecuteTime *time.Time `json:"executeTime,omitempty"`
	Repeat      Repeat     `json:"repeat,omitempty"`
	Action      Action     `json:"action,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// MarshalJSON writes duration in milliseconds.
func (r Rule) MarshalJSON() ([]byte, error) {
	w := ruleJSON{
		ID:        r.ID,
		ItemID:    r.ItemID,
		Mode:      r.Mode,
		Duration:  r.Duration.Milliseconds(),
		Repeat:    r.Repeat,
		Action:    r.Action,
		CreatedAt: r.CreatedAt,
	}
	if !r.ExecuteTime.IsZero() {
		t := r.ExecuteTime
		w.ExecuteTime = &t
	}
	return json.Marshal(w)
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var w ruleJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Rule{
		ID:        w.ID,
		ItemID:    w.ItemID,
		Mode:      w.Mode,
		Duration:  time.Duration(w.Duration) * time.Millisecond,
		Repeat:    w.Repeat,
		Action:    w.Action,
		CreatedAt: w.CreatedAt,
	}
	if w.ExecuteTime != nil {
		r.ExecuteTime = *w.ExecuteTime
	}
	return nil
}
