// Command shfd runs the shared file daemon and talks to a running instance.
//
// Without a subcommand shfd starts the daemon in the foreground. The status,
// peers, locks, journal, set, reload and shutdown subcommands connect to the
// loopback admin port of a running daemon; config init writes a sample
// configuration file.
package main
