// Package scheduler holds the pieces shared by the concrete schedulers in
// basic/ and threadpool/: the injection queue, options, and the per-task
// execution wrapper (logging, events, tracing, counters).
//
// Schedulers never learn the runtime's handle type. The runtime passes an
// Enter hook; each driver goroutine runs its whole loop inside it.
package scheduler
