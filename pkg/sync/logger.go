// ABOUTME: Logging hook shared by the synchronization components
// ABOUTME: Any *log.Logger or logrus logger satisfies Logger
package sync

// Logger is the logging interface accepted by every component in this package.
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
