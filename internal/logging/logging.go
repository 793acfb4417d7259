// Package logging provides the leveled logger shared by every component.
package logging

import (
	"fmt"
	"strings"

	pionlog "github.com/pion/logging"
	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "15:04:05.000"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Init sets the minimum level from a name such as "debug", "info", "warn"
// or "error". Unknown names leave the level at info.
func Init(level string) {
	pterm.DefaultLogger.Level = parseLevel(level)
}

func parseLevel(level string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace
	case "dev", "development", "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error", "production", "prod":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}

func Debugf(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// PionFactory returns a logger factory for pion internals. pion is chatty, so
// it runs one level quieter than the application logger.
func PionFactory() pionlog.LoggerFactory {
	f := pionlog.NewDefaultLoggerFactory()
	switch pterm.DefaultLogger.Level {
	case pterm.LogLevelTrace:
		f.DefaultLogLevel = pionlog.LogLevelDebug
	case pterm.LogLevelDebug:
		f.DefaultLogLevel = pionlog.LogLevelInfo
	case pterm.LogLevelError:
		f.DefaultLogLevel = pionlog.LogLevelError
	default:
		f.DefaultLogLevel = pionlog.LogLevelWarn
	}
	return f
}
