package log

import (
	"fmt"
	"log"
	"strings"
)

// controlCharReplacer escapes control characters that can be used for log
// injection (CWE-117). Newlines and carriage returns in attacker-influenced
// strings can forge fake log entries.
var controlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func sanitize(s string) string {
	return controlCharReplacer.Replace(s)
}

func sanitizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			out[i] = sanitize(s)
		} else {
			out[i] = arg
		}
	}

	return out
}

// GoLogger is the standard-library (log) implementation of Logger.
// String arguments are sanitized before being written.
type GoLogger struct {
	Level  LogLevel
	fields []any
}

// enabled reports whether the given level would be emitted.
func (l *GoLogger) enabled(level LogLevel) bool {
	if l == nil {
		return false
	}

	return l.Level >= level
}

func (l *GoLogger) print(level LogLevel, args ...any) {
	if !l.enabled(level) {
		return
	}

	parts := make([]string, 0, 3)
	parts = append(parts, fmt.Sprintf("[%s]", level.String()))

	if fields := l.renderFields(); fields != "" {
		parts = append(parts, fields)
	}

	parts = append(parts, fmt.Sprint(sanitizeArgs(args)...))
	log.Print(strings.Join(parts, " "))
}

func (l *GoLogger) printf(level LogLevel, format string, args ...any) {
	if !l.enabled(level) {
		return
	}

	l.print(level, fmt.Sprintf(sanitize(format), args...))
}

func (l *GoLogger) renderFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	parts := make([]string, 0, (len(l.fields)+1)/2)

	for i := 0; i < len(l.fields); i += 2 {
		if i+1 >= len(l.fields) {
			parts = append(parts, fmt.Sprint(l.fields[i]))
			continue
		}

		parts = append(parts, fmt.Sprintf("%v=%v", l.fields[i], l.fields[i+1]))
	}

	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// Info implements Logger.
func (l *GoLogger) Info(args ...any) { l.print(InfoLevel, args...) }

// Infof implements Logger.
func (l *GoLogger) Infof(format string, args ...any) { l.printf(InfoLevel, format, args...) }

// Warn implements Logger.
func (l *GoLogger) Warn(args ...any) { l.print(WarnLevel, args...) }

// Warnf implements Logger.
func (l *GoLogger) Warnf(format string, args ...any) { l.printf(WarnLevel, format, args...) }

// Error implements Logger.
func (l *GoLogger) Error(args ...any) { l.print(ErrorLevel, args...) }

// Errorf implements Logger.
func (l *GoLogger) Errorf(format string, args ...any) { l.printf(ErrorLevel, format, args...) }

// Debug implements Logger.
func (l *GoLogger) Debug(args ...any) { l.print(DebugLevel, args...) }

// Debugf implements Logger.
func (l *GoLogger) Debugf(format string, args ...any) { l.printf(DebugLevel, format, args...) }

// WithFields implements Logger.
//
//nolint:ireturn
func (l *GoLogger) WithFields(fields ...any) Logger {
	if l == nil {
		return &GoLogger{}
	}

	merged := make([]any, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)

	return &GoLogger{Level: l.Level, fields: merged}
}

// Sync implements Logger. The standard logger is unbuffered.
func (l *GoLogger) Sync() error { return nil }
