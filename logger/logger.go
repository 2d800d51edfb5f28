package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogLevel is the node's own level scale; it is mapped onto logrus levels.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var log = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// GetLogger returns the underlying logrus logger.
func GetLogger() *logrus.Logger {
	return log
}

// SetOutput redirects all log output, mostly useful in tests.
func SetOutput(out io.Writer) {
	log.SetOutput(out)
}

func SetLevel(level LogLevel) {
	switch level {
	case DEBUG:
		log.SetLevel(logrus.DebugLevel)
	case INFO:
		log.SetLevel(logrus.InfoLevel)
	case WARNING:
		log.SetLevel(logrus.WarnLevel)
	case ERROR:
		log.SetLevel(logrus.ErrorLevel)
	case FATAL:
		log.SetLevel(logrus.FatalLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
}

func Debug(args ...interface{})                   { log.Debug(args...) }
func Debugf(format string, args ...interface{})   { log.Debugf(format, args...) }
func Info(args ...interface{})                    { log.Info(args...) }
func Infof(format string, args ...interface{})    { log.Infof(format, args...) }
func Warning(args ...interface{})                 { log.Warn(args...) }
func Warningf(format string, args ...interface{}) { log.Warnf(format, args...) }
func Error(args ...interface{})                   { log.Error(args...) }
func Errorf(format string, args ...interface{})   { log.Errorf(format, args...) }
func Fatalf(format string, args ...interface{})   { log.Fatalf(format, args...) }

// LogBlockEvent records a block that was appended to the canonical chain.
func LogBlockEvent(index uint64, hash string, txCount int, source string) {
	log.WithFields(logrus.Fields{
		"event":    "block_appended",
		"index":    index,
		"hash":     hash,
		"tx_count": txCount,
		"source":   source,
	}).Info("Block appended")
}

// LogConsensusEvent records a consensus decision (resolution, rejection, fork switch).
func LogConsensusEvent(event string, fields map[string]interface{}) {
	entry := log.WithField("event", event)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Info("Consensus event")
}
