// Package scheduler drives cron tasks, one-shot triggers, event
// subscriptions, and location reminders for every deployed agent.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrelai/core/internal/models"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// taskLocation resolves the timezone a task's cron expression is
// evaluated in: the task's own timezone, falling back to UTC. Cron
// matching is wall-clock, so "0 9 * * 1" in Europe/Madrid fires Monday
// 09:00 local regardless of DST transitions.
func taskLocation(task *models.ScheduledTask) *time.Location {
	if task.Timezone != "" {
		if tz, err := time.LoadLocation(task.Timezone); err == nil {
			return tz
		}
	}
	return time.UTC
}

// NextFireTime computes the next time task should fire strictly after
// basis. For one-shot tasks this is simply triggerAt; the caller
// decides whether a past triggerAt means "fire now" (it does, on
// deploy recovery) or "already handled".
func NextFireTime(task *models.ScheduledTask, basis time.Time) (time.Time, bool, error) {
	if task.OneShot {
		if task.TriggerAt == nil {
			return time.Time{}, false, fmt.Errorf("scheduler: one-shot task missing trigger_at")
		}
		return *task.TriggerAt, task.Enabled, nil
	}

	if task.CronExpression == "" {
		return time.Time{}, false, fmt.Errorf("scheduler: recurring task missing cron expression")
	}
	schedule, err := cronParser.Parse(task.CronExpression)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scheduler: parse cron expression %q: %w", task.CronExpression, err)
	}
	next := schedule.Next(basis.In(taskLocation(task)))
	return next, !next.IsZero(), nil
}

// Due reports whether task should fire on a tick occurring at now.
//
// One-shot tasks are due once now reaches triggerAt; a triggerAt already
// in the past (typically after a crash and redeploy) is due immediately,
// giving at-least-once delivery. Recurring tasks are due when the cron
// schedule has a match between the last fire (or creation) and now. A
// startAt delays the first fire until now >= startAt.
func Due(task *models.ScheduledTask, now time.Time) (bool, error) {
	if !task.Enabled {
		return false, nil
	}
	if task.StartAt != nil && now.Before(*task.StartAt) {
		return false, nil
	}

	if task.OneShot {
		if task.TriggerAt == nil {
			return false, fmt.Errorf("scheduler: one-shot task missing trigger_at")
		}
		return !now.Before(*task.TriggerAt), nil
	}

	basis := task.CreatedAt
	if task.LastRunAt != nil && task.LastRunAt.After(basis) {
		basis = *task.LastRunAt
	}
	if basis.IsZero() {
		basis = now.Add(-time.Minute)
	}
	next, ok, err := NextFireTime(task, basis)
	if err != nil || !ok {
		return false, err
	}
	return !next.After(now), nil
}
