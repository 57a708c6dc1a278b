package logging

// NoOpLogger discards all log output. Used in tests and as a safe default.
type NoOpLogger struct{}

var _ Logger = (*NoOpLogger)(nil)

// NewNoOpLogger returns a logger that discards everything
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, tags ...any)                  {}
func (l *NoOpLogger) Info(msg string, tags ...any)                   {}
func (l *NoOpLogger) Warn(msg string, tags ...any)                   {}
func (l *NoOpLogger) Error(msg string, tags ...any)                  {}
func (l *NoOpLogger) Fatal(msg string, tags ...any)                  {}
func (l *NoOpLogger) Debugf(template string, args ...interface{})    {}
func (l *NoOpLogger) Infof(template string, args ...interface{})     {}
func (l *NoOpLogger) Warnf(template string, args ...interface{})     {}
func (l *NoOpLogger) Errorf(template string, args ...interface{})    {}
func (l *NoOpLogger) Fatalf(template string, args ...interface{})    {}
func (l *NoOpLogger) With(tags ...any) Logger                        { return l }
