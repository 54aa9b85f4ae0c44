// Package logging configures structured slog output for fundrag.
//
// Logs are JSON lines written to a size-rotated file under
// ~/.fundrag/logs/ and, outside of MCP serve mode, mirrored to stderr.
// Every retrieval logs a query_id attribute so one question can be traced
// across strategies with the log viewer.
package logging
