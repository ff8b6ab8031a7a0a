// ABOUTME: Logging hook for the coordinator
// ABOUTME: Any *log.Logger or logrus logger satisfies Logger
package resonate

// Logger is passed down to every component the coordinator owns
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
