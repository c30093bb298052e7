// Package scheduler turns cron specs into task engine submissions.
//
// It only triggers. Each firing enqueues an engine.Task carrying the firing
// instant, and overlapping firings of the same schedule are skipped while a
// previous run is queued or executing.
package scheduler
