package game

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Any marks a schedule field as a wildcard.
const Any = -1

// Schedule is a compact minute/hour/weekday trigger description. Weekday
// follows time.Weekday (0 = Sunday).
type Schedule struct {
	Minute  int `json:"minute"`
	Hour    int `json:"hour"`
	Weekday int `json:"weekday"`
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

func ParseSchedule(minute, hour, weekday string) (Schedule, error) {
	var s Schedule
	var err error
	if s.Minute, err = parseField("minute", minute, 59, nil); err != nil {
		return Schedule{}, err
	}
	if s.Hour, err = parseField("hour", hour, 23, nil); err != nil {
		return Schedule{}, err
	}
	if s.Weekday, err = parseField("weekday", weekday, 6, weekdayNames); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func parseField(name, raw string, maxValue int, names map[string]int) (int, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "*" {
		return Any, nil
	}
	if names != nil {
		if v, ok := names[raw[:min(3, len(raw))]]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > maxValue {
		return 0, fmt.Errorf("%w: %s must be * or 0-%d, got %q", ErrInvalidInput, name, maxValue, raw)
	}
	return v, nil
}

func (s Schedule) Validate() error {
	check := func(name string, v, maxValue int) error {
		if v != Any && (v < 0 || v > maxValue) {
			return fmt.Errorf("%w: %s out of range: %d", ErrInvalidInput, name, v)
		}
		return nil
	}
	if err := check("minute", s.Minute, 59); err != nil {
		return err
	}
	if err := check("hour", s.Hour, 23); err != nil {
		return err
	}
	return check("weekday", s.Weekday, 6)
}

// Matches reports whether t falls on a minute the schedule fires at.
func (s Schedule) Matches(t time.Time) bool {
	return fieldMatches(s.Minute, t.Minute()) &&
		fieldMatches(s.Hour, t.Hour()) &&
		fieldMatches(s.Weekday, int(t.Weekday()))
}

func fieldMatches(field, v int) bool {
	return field == Any || field == v
}

func (s Schedule) String() string {
	f := func(v int) string {
		if v == Any {
			return "*"
		}
		return strconv.Itoa(v)
	}
	wd := "*"
	if s.Weekday != Any {
		wd = time.Weekday(s.Weekday).String()[:3]
	}
	return f(s.Minute) + " " + f(s.Hour) + " " + strings.ToLower(wd)
}
