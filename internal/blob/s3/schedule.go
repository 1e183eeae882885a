package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed five-field cron expression
// ("minute hour day-of-month month day-of-week"). Each field accepts "*",
// "*/step", a single value or a comma-separated list of values.
type Schedule struct {
	expr   string
	fields [5]cronField
}

type cronField struct {
	any    bool
	values map[int]bool
}

func (f cronField) matches(v int) bool { return f.any || f.values[v] }

var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseSchedule parses expr, checking every value against its field range.
func ParseSchedule(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("s3blob: cron expression must have 5 fields, got %d", len(parts))
	}
	s := Schedule{expr: expr}
	for i, p := range parts {
		f, err := parseCronField(p, cronBounds[i].min, cronBounds[i].max)
		if err != nil {
			return Schedule{}, fmt.Errorf("s3blob: %s field: %w", cronBounds[i].name, err)
		}
		s.fields[i] = f
	}
	return s, nil
}

func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}
	values := make(map[int]bool)
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step <= 0 {
			return cronField{}, fmt.Errorf("invalid step %q", field)
		}
		for v := lo; v <= hi; v += step {
			values[v] = true
		}
		return cronField{values: values}, nil
	}
	for _, p := range strings.Split(field, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid value %q: %w", p, err)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("value %d outside %d-%d", v, lo, hi)
		}
		values[v] = true
	}
	return cronField{values: values}, nil
}

func (s Schedule) String() string { return s.expr }

func (s Schedule) matches(t time.Time) bool {
	return s.fields[0].matches(t.Minute()) &&
		s.fields[1].matches(t.Hour()) &&
		s.fields[2].matches(t.Day()) &&
		s.fields[3].matches(int(t.Month())) &&
		s.fields[4].matches(int(t.Weekday()))
}

// Next returns the first minute strictly after after that matches, searching
// at most one year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("s3blob: no time matches %q within a year", s.expr)
}

// RunCron archives at every time matching sched, in UTC, until ctx is
// cancelled.
func (a *Archiver) RunCron(ctx context.Context, sched Schedule) error {
	a.logger.Info("archiver cron started", slog.String("cron", sched.String()))
	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return err
		}
		a.logger.Debug("archiver waiting for next run", slog.Time("next_run", next))

		timer := time.NewTimer(next.Sub(a.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			a.archiveOnce(ctx)
		}
	}
}
