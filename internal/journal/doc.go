// Package journal records file operations in a SQLite database.
//
// The journal is an audit trail: it never holds lock state and is not read
// back on restart. Entries older than the configured retention are removed by
// a cron-scheduled Pruner.
package journal
