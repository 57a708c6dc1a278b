package logging

// ProcessName type to ensure valid process names
type ProcessName string

const (
	AggregatorProcess ProcessName = "aggregator"
	ClientProcess     ProcessName = "client"
)

// Logger is the logging interface used across the service
type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)
	Fatal(msg string, tags ...any)

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})

	With(tags ...any) Logger
}

// LoggerConfig holds the configuration for creating a logger
type LoggerConfig struct {
	ProcessName   ProcessName
	IsDevelopment bool
}
