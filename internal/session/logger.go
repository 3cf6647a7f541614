package session

// Logger is the narrow logging surface the session layer needs. A
// *logrus.Logger satisfies it directly, so the daemon wires one in without
// this package importing logrus — see cmd/cisessiond for the concrete
// adapter.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
