// Package control is the client side of the loopback admin channel.
//
// The CLI subcommands (status, peers, locks, reload, shutdown) dial the
// daemon's admin port through Dial, issue one command per method, and parse
// the line replies into typed values. Replies starting with ERR or FAIL are
// returned as *ReplyError so callers can inspect the protocol code.
package control
