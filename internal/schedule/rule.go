package schedule

import (
	"fmt"
	"time"

	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robfig/cron/v3"
)

// Rule computes the next fire time strictly after the given instant.
type Rule interface {
	Next(t time.Time) time.Time
}

// DailyRule fires at midnight in loc.
func DailyRule(loc *time.Location) (Rule, error) {
	return parseRule("0 0 * * *", loc)
}

// MonthlyRule fires at midnight on the first day of each month in loc.
func MonthlyRule(loc *time.Location) (Rule, error) {
	return parseRule("0 0 1 * *", loc)
}

func parseRule(spec string, loc *time.Location) (Rule, error) {
	rule, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", loc, spec))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", spec, err)
	}

	return rule, nil
}

// Missed reports whether a task last completed at last has not yet run in
// the calendar period containing now.
func Missed(taskType TaskType, last, now time.Time, loc *time.Location) bool {
	switch taskType {
	case TaskDaily:
		return last.Before(types.DayOf(now, loc).Start)
	case TaskMonthly:
		return last.Before(types.MonthOf(now, loc).Start)
	default:
		return false
	}
}

// latestFire returns the last fire time of rule after last and at or before now.
// It returns now when the rule did not fire in that window.
func latestFire(rule Rule, last, now time.Time) time.Time {
	latest := now
	for next := rule.Next(last); !next.After(now); next = rule.Next(next) {
		latest = next
	}

	return latest
}
