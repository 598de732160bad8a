// Package daemon owns the shfd process lifecycle.
//
// Run acquires the single-instance lock, builds the lock table, peer
// registry, worker pool and monitor, starts the signal coordinator, and then
// drives two accept loops: the file channel feeds the pool, the loopback admin
// channel is served one client at a time. Shutdown and reload requests arrive
// on the coordinator's channel whether they come from signals, the admin
// channel or the config file watcher.
//
// Fatal errors are returned as *StageError; ExitCode maps them to the
// process exit status.
package daemon
