// Package session implements the two line protocols served by shfd.
//
// FileServer drives one file-channel connection: it keeps a per-session
// descriptor table, takes the resource lock around every read and write, and
// relays requests for resources owned by a sibling daemon. AdminServer drives
// the loopback admin channel used to inspect and resize the pool, list peers
// and locks, and request reload or shutdown.
//
// Replies are single lines starting with OK, ERR (bad request) or FAIL
// (request was valid but could not be served), followed by an errno-style
// code. Multi-line replies end with a line holding a single ".".
package session
