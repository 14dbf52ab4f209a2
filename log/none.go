package log

// NoneLogger is a no-op Logger implementation, used where logging is
// unwanted (tests, benchmarks).
type NoneLogger struct{}

// Info does nothing.
func (l *NoneLogger) Info(_ ...any) {}

// Infof does nothing.
func (l *NoneLogger) Infof(_ string, _ ...any) {}

// Warn does nothing.
func (l *NoneLogger) Warn(_ ...any) {}

// Warnf does nothing.
func (l *NoneLogger) Warnf(_ string, _ ...any) {}

// Error does nothing.
func (l *NoneLogger) Error(_ ...any) {}

// Errorf does nothing.
func (l *NoneLogger) Errorf(_ string, _ ...any) {}

// Debug does nothing.
func (l *NoneLogger) Debug(_ ...any) {}

// Debugf does nothing.
func (l *NoneLogger) Debugf(_ string, _ ...any) {}

// WithFields returns the same no-op logger.
//
//nolint:ireturn
func (l *NoneLogger) WithFields(_ ...any) Logger { return l }

// Sync is a no-op and always returns nil.
func (l *NoneLogger) Sync() error { return nil }
