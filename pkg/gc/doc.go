// Package gc runs Writer.GarbageCollect on a ticker, the periodic-cycle
// shape spec.md §4.4 describes, grounded on the teacher's reconciler
// loop: a start/stop channel pair and a zerolog component logger. The
// runner records no metrics of its own; Writer.GarbageCollect observes
// each cycle's duration and count.
package gc
