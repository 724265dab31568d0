package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// InvalidScheduleError wraps a cron expression that failed to parse.
type InvalidScheduleError struct {
	Expr string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Expr, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error {
	return e.Err
}

// standard 5-field cron plus @descriptors; secondsParser additionally accepts
// a leading seconds field, matching the cron.WithSeconds runner setup.
var (
	standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	secondsParser  = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func parse(expr string) (cron.Schedule, error) {
	sched, err := standardParser.Parse(expr)
	if err == nil {
		return sched, nil
	}
	sched, err6 := secondsParser.Parse(expr)
	if err6 == nil {
		return sched, nil
	}
	// Report the error from the parser whose field count matches the input.
	if len(strings.Fields(expr)) == 6 {
		err = err6
	}
	return nil, &InvalidScheduleError{Expr: expr, Err: err}
}

// NextTrigger returns the next instant after from at which expr fires.
// Pure and deterministic; the result is always strictly after from.
func NextTrigger(expr string, from time.Time) (time.Time, error) {
	sched, err := parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Validate reports whether expr is a parseable cron expression.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}
