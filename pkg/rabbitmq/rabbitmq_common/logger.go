package rabbitmq_common

// Logger - минимальный контракт логгера, который нужен pkg-уровню.
// Сервисы подключают свой логгер через мост (см. PkgLoggerBridge в сервисе).
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(err error, msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, keysAndValues ...interface{})            {}
func (l *noopLogger) Info(msg string, keysAndValues ...interface{})             {}
func (l *noopLogger) Warn(msg string, keysAndValues ...interface{})             {}
func (l *noopLogger) Error(err error, msg string, keysAndValues ...interface{}) {}

// NewNoopLogger returns a logger that performs no operations.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

// OrNoop возвращает logger, либо no-op логгер, если logger == nil
func OrNoop(logger Logger) Logger {
	if logger == nil {
		return NewNoopLogger()
	}
	return logger
}
