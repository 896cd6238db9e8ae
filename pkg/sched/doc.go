// Package sched manages named, concurrently running jobs.
//
// Jobs are declared as Runnables (optionally carrying before/after hooks)
// and handed to a Scheduler as one-shot Units, keyed by a task id. Units can
// run immediately, at an absolute time, or after a delay, and can be
// cancelled by id. A Repeater layers cron-style recurrence on top.
//
// Schedule is fire-and-forget: job errors are logged by the completion
// callback, never returned to the scheduling caller.
package sched
