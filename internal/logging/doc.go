// Package logging assembles structured slog loggers and formatting helpers used
// across queuectl.
//
// Console output goes through tint and is colourised only when every output is
// a terminal. JSON output uses ts/level/msg keys. Worker processes tee a JSON
// copy of their log into an events file so job outcomes can be processed by
// tools. Context helpers tag log lines with worker and job identifiers.
package logging
