// Package pool runs file sessions on a bounded, resizable set of workers.
//
// Submit never blocks: a connection goes to the longest-idle worker, or the
// pool grows by one increment, or the submission is rejected with
// ErrSaturated. A Monitor periodically compares busy and total workers and
// grows or shrinks the pool within its floor and ceiling. Busy workers are
// never interrupted by a shrink.
package pool
