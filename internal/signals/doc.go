// Package signals owns the daemon's asynchronous signal disposition.
//
// One coordinator goroutine receives every watched signal and translates it
// into a Request delivered on a channel. Workers never observe signals
// directly. Other sources such as the admin channel or the config watcher
// inject the same requests through Submit.
package signals
