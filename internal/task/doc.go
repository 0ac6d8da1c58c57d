// Package task schedules image transformation jobs.
//
// The primary components are:
// - TaskRunner: priority scheduler with bounded concurrency, pause, resume,
//   cancel and crash recovery. One coordinator goroutine owns all mutable
//   scheduling state; workers report to it over a channel and never write
//   job records themselves.
// - Processor: the Executor running the image pipeline for a job
//   (cache lookup, transcode, provider dispatch, output write).
//
// Job records are persisted through store.JobStore before they are queued,
// so a restart re-queues every job that did not reach a terminal state.
package task
