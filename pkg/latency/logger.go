// ABOUTME: Logging hook for the latency measurer
// ABOUTME: Any *log.Logger or logrus logger satisfies Logger
package latency

// Logger is the logging interface accepted by Measurer
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
