// Package locktable serializes access to named resources across concurrently
// running sessions.
//
// Each resource has at most one holder. Contending owners queue in arrival
// order and ownership is handed directly to the head of the queue on
// release, so a woken waiter never races a newcomer. The table is bounded:
// once capacity entries exist, acquisitions of unlocked resources fail with
// TableFull rather than waiting. Acquiring a resource the owner already holds
// or awaits is rejected with ErrReentrant instead of deadlocking.
package locktable
