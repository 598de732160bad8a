// Package daemonrun is the process entry point behind the root shfd command:
// it turns a loaded config into a logger and a running daemon.
package daemonrun
