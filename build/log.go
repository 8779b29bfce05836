// Package build holds logging setup shared by the whole application.
package build

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var logConfigLock sync.Mutex
var subsystemHooks = map[string]*consoleLogHook{}

var consoleFormat = logrus.TextFormatter{
	ForceColors:     true,
	FullTimestamp:   true,
	TimestampFormat: "15:04:05",
}

// AddSubLogger creates a new logger for the given subsystem. The subsystem
// name is prepended to every message so interleaved logs stay readable.
func AddSubLogger(subsystem string) *logrus.Logger {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard) // the hook writes to stdout
	logger.SetLevel(logrus.TraceLevel)

	hook := &consoleLogHook{
		subsystem: subsystem,
		level:     logrus.InfoLevel,
	}
	logger.AddHook(hook)
	subsystemHooks[subsystem] = hook

	return logger
}

// SetLogLevel sets the log level for a single subsystem.
func SetLogLevel(subsystem string, level logrus.Level) {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	if hook, ok := subsystemHooks[subsystem]; ok {
		hook.level = level
	}
}

// SetLogLevels sets the log level for all registered subsystems.
func SetLogLevels(level logrus.Level) {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	for _, hook := range subsystemHooks {
		hook.level = level
	}
}

// ToLogLevel takes in a string and converts it to a Logrus log level
func ToLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	case "panic":
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("%s is not a valid log level", s)
	}
}

type consoleLogHook struct {
	subsystem string
	level     logrus.Level
}

var _ logrus.Hook = &consoleLogHook{}

func (c *consoleLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (c *consoleLogHook) Fire(entry *logrus.Entry) error {
	if entry == nil || c.level < entry.Level {
		return nil
	}

	// append subsystem to log message
	copied := *entry
	copied.Message = fmt.Sprintf("%s %s", c.subsystem, entry.Message)

	formatted, err := consoleFormat.Format(&copied)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(formatted)
	return err
}
