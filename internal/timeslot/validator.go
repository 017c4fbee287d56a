// Package timeslot validates candidate doctor time slots against clinic rules
// and the doctor's existing slots. It performs no I/O.
package timeslot

import (
	"fmt"
	"strings"
	"time"
)

// Rule identifies which validation rule rejected a candidate.
type Rule string

const (
	RuleOpeningHour Rule = "opening_hour"
	RuleDateInPast  Rule = "date_in_past"
	RuleOrdering    Rule = "ordering"
	RuleMinDuration Rule = "min_duration"
	RuleMaxDuration Rule = "max_duration"
	RuleOverlap     Rule = "overlap"
	RuleFormat      Rule = "format"
)

// ValidationError is returned for every rejected candidate. Message is safe to
// show to the user as is.
type ValidationError struct {
	Rule    Rule
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrBeforeOpening = &ValidationError{Rule: RuleOpeningHour, Message: "time slots cannot start before the clinic opens"}
	ErrDateInPast    = &ValidationError{Rule: RuleDateInPast, Message: "cannot create time slots for past dates"}
	ErrStartAfterEnd = &ValidationError{Rule: RuleOrdering, Message: "start time must be before end time"}
	ErrTooShort      = &ValidationError{Rule: RuleMinDuration, Message: "time slot is shorter than the minimum duration"}
	ErrTooLong       = &ValidationError{Rule: RuleMaxDuration, Message: "time slot is longer than the maximum duration"}
	ErrOverlap       = &ValidationError{Rule: RuleOverlap, Message: "time slot overlaps with an existing slot"}
)

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share any instant.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// Candidate is a slot a doctor wants to create.
type Candidate struct {
	Date  time.Time // calendar day in the clinic location
	Start time.Time
	End   time.Time
}

func (c Candidate) Window() Window { return Window{Start: c.Start, End: c.End} }

type Validator struct {
	Location    *time.Location
	OpenHour    int
	MinDuration time.Duration
	MaxDuration time.Duration
	Now         func() time.Time
}

// NewValidator returns a validator with the clinic defaults: open at 8,
// slots between 30 minutes and 3 hours.
func NewValidator(loc *time.Location) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{
		Location:    loc,
		OpenHour:    8,
		MinDuration: 30 * time.Minute,
		MaxDuration: 3 * time.Hour,
		Now:         time.Now,
	}
}

// Validate applies the rules in order and returns the first violation.
func (v *Validator) Validate(c Candidate, existing []Window) error {
	loc := v.location()

	start := c.Start.In(loc)
	if start.Hour() < v.OpenHour {
		return ErrBeforeOpening
	}

	today := truncateDay(v.now().In(loc))
	if truncateDay(c.Date.In(loc)).Before(today) {
		return ErrDateInPast
	}

	if !c.Start.Before(c.End) {
		return ErrStartAfterEnd
	}

	d := c.End.Sub(c.Start)
	if d < v.MinDuration {
		return ErrTooShort
	}
	if d > v.MaxDuration {
		return ErrTooLong
	}

	w := c.Window()
	for _, e := range existing {
		if Overlaps(w, e) {
			return ErrOverlap
		}
	}
	return nil
}

// Today returns the current clinic-local calendar day.
func (v *Validator) Today() time.Time {
	return truncateDay(v.now().In(v.location()))
}

func (v *Validator) location() *time.Location {
	if v.Location == nil {
		return time.UTC
	}
	return v.Location
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseCandidate builds a candidate from "2006-01-02" and "15:04" strings in loc.
func ParseCandidate(date, start, end string, loc *time.Location) (Candidate, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), loc)
	if err != nil {
		return Candidate{}, &ValidationError{Rule: RuleFormat, Message: "date must be formatted as YYYY-MM-DD"}
	}
	s, err := clockOn(day, start)
	if err != nil {
		return Candidate{}, &ValidationError{Rule: RuleFormat, Message: fmt.Sprintf("start time %q must be formatted as HH:MM", start)}
	}
	e, err := clockOn(day, end)
	if err != nil {
		return Candidate{}, &ValidationError{Rule: RuleFormat, Message: fmt.Sprintf("end time %q must be formatted as HH:MM", end)}
	}
	return Candidate{Date: day, Start: s, End: e}, nil
}

func clockOn(day time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	// HH:MM:SS from a TIME column is accepted too
	if strings.Count(clock, ":") == 2 {
		clock = clock[:strings.LastIndex(clock, ":")]
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
