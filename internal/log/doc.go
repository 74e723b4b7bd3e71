// Package log builds the slog loggers used by linkscout.
//
// Every logger wraps its handler in a RedactHandler, which masks values that
// must not end up in log files: cookies, authorization headers, tokens and the
// user:password part of proxy or page URLs. Masking applies at every level,
// including debug.
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	logger.Info("request sent", "cookie", "session=abc123") // cookie=***REDACTED***
//
// NewJSONLogger emits the same records as JSON for log aggregation.
package log
