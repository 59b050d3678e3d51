package log

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// New builds the process logger: text output with millisecond timestamps
func New(level string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return logger, nil
}

// BadgerLogger implements badger.Logger on top of logrus.
// Badger's info chatter (compactions, value log GC) is demoted to debug.
type BadgerLogger struct {
	*logrus.Entry
}

// NewBadgerLogger tags every badger message with component=badger
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry.WithField("component", "badger")}
}

// Errorf logs an error message
func (l *BadgerLogger) Errorf(f string, v ...interface{}) { l.Entry.Errorf(f, v...) }

// Warningf logs a warning message
func (l *BadgerLogger) Warningf(f string, v ...interface{}) { l.Entry.Warnf(f, v...) }

// Infof logs at debug level
func (l *BadgerLogger) Infof(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

// Debugf logs at trace level
func (l *BadgerLogger) Debugf(f string, v ...interface{}) { l.Entry.Tracef(f, v...) }
