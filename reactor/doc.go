// Package reactor is a single goroutine event loop: readiness watchers on
// raw descriptors and one-shot timers, dispatched from one goroutine.
//
// Nothing in a Loop is safe for concurrent use except Post and Stop. All
// watcher callbacks run on the goroutine that called Run or RunOnce, so
// callbacks may freely start and stop other watchers of the same loop.
package reactor
