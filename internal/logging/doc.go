// Package logging provides structured logging for excelmind.
//
// Logger wraps Zap with:
//   - context field injection (trace_id, session.id, task.id, phase)
//   - stdout and OpenTelemetry outputs
//   - redaction of sensitive keys and value patterns
//   - sampling below error level
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	ctx = logging.WithTaskID(ctx, taskID)
//	logger.Info(ctx, "phase entered", zap.String("phase", "observing"))
//
// Tests use NewTestLogger to assert on emitted entries.
package logging
