// Package netio is the socket plumbing under both daemon channels: TCP
// listeners, dialing with a timeout, and newline-framed reads and writes with
// per-read deadlines.
package netio
