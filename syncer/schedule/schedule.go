// Package schedule computes when a cron scheduled sync is due.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse validates a five field cron expression or a descriptor such as @hourly.
func Parse(expr string) (cron.Schedule, error) {
	return parser.Parse(strings.TrimSpace(expr))
}

// Next returns the first activation strictly after from. It reports false
// when expr is empty or malformed, meaning never due.
func Next(expr string, from time.Time) (time.Time, bool) {
	if strings.TrimSpace(expr) == "" {
		return time.Time{}, false
	}
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, false
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
