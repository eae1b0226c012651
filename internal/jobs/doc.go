// Package jobs fires configured shell jobs on cron schedules. Each fire is a
// task spawned on a runtime handle; the command runs in-process through a
// POSIX shell interpreter.
package jobs
