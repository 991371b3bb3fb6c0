package modulehost

import "go.uber.org/zap"

// Guest log levels, matching the ordinal convention Rust's `log` crate
// uses (Error is the most severe, numbered lowest) since that is the
// convention a WASM guest built against the original bindings would
// already be emitting.
const (
	LogError uint32 = 1
	LogWarn  uint32 = 2
	LogInfo  uint32 = 3
	LogDebug uint32 = 4
	LogTrace uint32 = 5
)

// guestLogger adapts a *zap.Logger to hostcall.Logger, so console_log
// calls land in the same structured log stream as the rest of the module
// host rather than a separate, unstructured guest log.
type guestLogger struct {
	log *zap.Logger
}

func newGuestLogger(log *zap.Logger) guestLogger {
	return guestLogger{log: log.Named("guest")}
}

func (g guestLogger) Log(level uint32, target, message string) {
	fields := []zap.Field{zap.String("target", target)}
	switch level {
	case LogError:
		g.log.Error(message, fields...)
	case LogWarn:
		g.log.Warn(message, fields...)
	case LogDebug:
		g.log.Debug(message, fields...)
	case LogTrace:
		g.log.Debug(message, fields...)
	default:
		g.log.Info(message, fields...)
	}
}
