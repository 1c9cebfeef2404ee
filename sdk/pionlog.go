package assay

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// newPionLoggerFactory bridges pion's internal logging onto the client's
// slog.Logger so peer-connection diagnostics land in the same stream as SDK
// logs.
func newPionLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	return &pionLoggerFactory{logger: logger}
}

type pionLoggerFactory struct {
	logger *slog.Logger
}

func (f *pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{logger: f.logger.With("scope", scope)}
}

type pionLogger struct {
	logger *slog.Logger
}

func (l *pionLogger) Trace(msg string)                  { l.logger.Debug(msg) }
func (l *pionLogger) Tracef(format string, args ...any) { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Debug(msg string)                  { l.logger.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...any) { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Info(msg string)                   { l.logger.Info(msg) }
func (l *pionLogger) Infof(format string, args ...any)  { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Warn(msg string)                   { l.logger.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...any)  { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Error(msg string)                  { l.logger.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...any) { l.logger.Error(fmt.Sprintf(format, args...)) }
