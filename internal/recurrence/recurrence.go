// Package recurrence computes when a task is next due.
//
// Expressions have the five cron fields (minute hour day month weekday).
// The default MinuteCalculator evaluates only the minute field, which may be
// "*", "*/N" or a literal minute 0-59; the other fields must be present but
// are not interpreted. CronCalculator evaluates all five fields.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidExpression is returned for expressions a calculator cannot evaluate.
var ErrInvalidExpression = errors.New("invalid recurrence expression")

// Calculator returns the next due time of expr after now.
type Calculator interface {
	Next(expr string, now time.Time) (time.Time, error)
}

const (
	ModeMinute = "minute"
	ModeCron   = "cron"
)

// New returns the calculator for mode. An empty mode selects ModeMinute.
func New(mode string) (Calculator, error) {
	switch mode {
	case "", ModeMinute:
		return MinuteCalculator{}, nil
	case ModeCron:
		return CronCalculator{}, nil
	default:
		return nil, fmt.Errorf("unknown recurrence mode %q", mode)
	}
}

// MinuteCalculator implements NextTrigger.
type MinuteCalculator struct{}

func (MinuteCalculator) Next(expr string, now time.Time) (time.Time, error) {
	return NextTrigger(expr, now)
}

// NextTrigger returns the next time expr's minute field matches, in now's
// location, with seconds and nanoseconds zeroed. It depends only on its arguments.
func NextTrigger(expr string, now time.Time) (time.Time, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return time.Time{}, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidExpression, expr, len(fields))
	}
	minute := fields[0]
	loc := now.Location()
	current := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, loc)

	switch {
	case strings.HasPrefix(minute, "*/"):
		n, ok := parseDigits(minute[2:])
		if !ok || n < 1 {
			return time.Time{}, fmt.Errorf("%w: bad step in minute field %q", ErrInvalidExpression, minute)
		}
		next := current.Add(time.Minute)
		for next.Minute()%n != 0 {
			next = next.Add(time.Minute)
		}
		return next, nil

	case minute == "*":
		return current.Add(time.Minute), nil

	default:
		m, ok := parseDigits(minute)
		if !ok || m > 59 {
			return time.Time{}, fmt.Errorf("%w: unsupported minute field %q", ErrInvalidExpression, minute)
		}
		hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)
		if now.Minute() < m {
			return hour.Add(time.Duration(m) * time.Minute), nil
		}
		return hour.Add(time.Hour + time.Duration(m)*time.Minute), nil
	}
}

func parseDigits(s string) (int, bool) {
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// CronCalculator evaluates full standard cron expressions.
type CronCalculator struct{}

func (CronCalculator) Next(expr string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrInvalidExpression, expr)
	}
	return next, nil
}
