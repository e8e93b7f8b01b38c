// Package scheduler implements Sage's persistent cron and one-shot task
// queue: a 1-second tick loop that claims due ScheduledTasks and re-enters
// the Agent Runtime with a synthetic turn, grounded in the teacher's
// makeCronJobHandler re-entry shape (cmd/gateway_cron.go) and its
// CronConfig retry-preserves-recurrence philosophy.
package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// NextRun computes the next firing time of the five-field cron expression
// expr, in the IANA timezone tz, strictly after the instant after (an
// after that is itself an exact tick is not returned). Timezone defaults
// to UTC when tz is empty.
func NextRun(expr, tz string, after time.Time) (time.Time, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}

	ref := after.In(loc)
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return next.In(loc), nil
}
