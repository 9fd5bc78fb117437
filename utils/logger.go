package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide structured logger.
var Log = NewLogger("referral-engine")

// NewLogger builds a JSON logger whose level comes from LOG_LEVEL.
func NewLogger(serviceName string) *logrus.Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(os.Stdout)

	log.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))

	log.AddHook(serviceHook{service: serviceName})
	return log
}

// ParseLevel maps a LOG_LEVEL value to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLogLevel re-applies the level once configuration, including .env, is loaded.
func SetLogLevel(level string) {
	Log.SetLevel(ParseLevel(level))
}

// SilenceLogs discards log output; used by tests.
func SilenceLogs() {
	Log.SetOutput(io.Discard)
}

type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	return nil
}
