package timeslot

import (
	"errors"
	"testing"
	"time"
)

func fixedValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(time.UTC)
	v.Now = func() time.Time { return time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC) }
	return v
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 6, day, hour, minute, 0, 0, time.UTC)
}

func TestValidateRulesInOrder(t *testing.T) {
	existing := []Window{{Start: at(10, 9, 0), End: at(10, 10, 0)}}

	tests := []struct {
		name string
		c    Candidate
		want error
	}{
		{"valid", Candidate{Date: at(10, 0, 0), Start: at(10, 10, 0), End: at(10, 10, 30)}, nil},
		{"before opening", Candidate{Date: at(10, 0, 0), Start: at(10, 7, 30), End: at(10, 8, 30)}, ErrBeforeOpening},
		{"past date", Candidate{Date: at(9, 0, 0), Start: at(9, 9, 0), End: at(9, 9, 30)}, ErrDateInPast},
		{"end before start", Candidate{Date: at(10, 0, 0), Start: at(10, 11, 0), End: at(10, 10, 0)}, ErrStartAfterEnd},
		{"equal bounds", Candidate{Date: at(10, 0, 0), Start: at(10, 11, 0), End: at(10, 11, 0)}, ErrStartAfterEnd},
		{"too short", Candidate{Date: at(10, 0, 0), Start: at(10, 11, 0), End: at(10, 11, 29)}, ErrTooShort},
		{"too long", Candidate{Date: at(10, 0, 0), Start: at(10, 11, 0), End: at(10, 14, 1)}, ErrTooLong},
		{"exactly max", Candidate{Date: at(10, 0, 0), Start: at(10, 11, 0), End: at(10, 14, 0)}, nil},
		{"overlap", Candidate{Date: at(10, 0, 0), Start: at(10, 9, 30), End: at(10, 10, 30)}, ErrOverlap},
		{"touching is fine", Candidate{Date: at(10, 0, 0), Start: at(10, 10, 0), End: at(10, 10, 30)}, nil},
		{"before opening wins over past date", Candidate{Date: at(9, 0, 0), Start: at(9, 6, 0), End: at(9, 5, 0)}, ErrBeforeOpening},
	}

	v := fixedValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.c, existing)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateUsesClinicLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	v := NewValidator(loc)
	v.Now = func() time.Time { return time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC) }

	// 03:00 UTC is 08:30 clinic time
	start := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC)
	c := Candidate{Date: start.In(loc), Start: start, End: start.Add(30 * time.Minute)}
	if err := v.Validate(c, nil); err != nil {
		t.Fatalf("expected clinic-local 08:30 to be valid, got %v", err)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	a := Window{Start: at(10, 9, 0), End: at(10, 10, 0)}
	cases := []struct {
		b    Window
		want bool
	}{
		{Window{Start: at(10, 10, 0), End: at(10, 11, 0)}, false},
		{Window{Start: at(10, 8, 0), End: at(10, 9, 0)}, false},
		{Window{Start: at(10, 9, 59), End: at(10, 11, 0)}, true},
		{Window{Start: at(10, 8, 0), End: at(10, 12, 0)}, true},
		{Window{Start: at(10, 9, 15), End: at(10, 9, 45)}, true},
	}
	for _, c := range cases {
		if got := Overlaps(a, c.b); got != c.want {
			t.Errorf("Overlaps(%v, %v) = %v, want %v", a, c.b, got, c.want)
		}
		if got := Overlaps(c.b, a); got != c.want {
			t.Errorf("Overlaps is not symmetric for %v", c.b)
		}
	}
}

func TestParseCandidate(t *testing.T) {
	c, err := ParseCandidate("2024-06-10", "09:00", "09:30:00", time.UTC)
	if err != nil {
		t.Fatalf("ParseCandidate: %v", err)
	}
	if !c.Start.Equal(at(10, 9, 0)) || !c.End.Equal(at(10, 9, 30)) {
		t.Fatalf("unexpected window %v..%v", c.Start, c.End)
	}

	for _, in := range [][3]string{
		{"10/06/2024", "09:00", "09:30"},
		{"2024-06-10", "9am", "09:30"},
		{"2024-06-10", "09:00", ""},
	} {
		_, err := ParseCandidate(in[0], in[1], in[2], time.UTC)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Rule != RuleFormat {
			t.Fatalf("ParseCandidate(%v) error = %v, want format error", in, err)
		}
	}
}
