// Package logging assembles the slog loggers shared by every shfd component.
//
// A single serialized sink receives either one human-readable line per record
// or JSON, chosen from configuration or by terminal detection. When a log file
// is configured every record is also written as JSON to a size-rotated file.
// Components tag their output with NewComponentLogger, and warnings go through
// WarnWithContext so they always carry an event type, a hint and an impact.
package logging
