package util

import "github.com/sirupsen/logrus"

func ContinueOrFatal(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

// LoggerOrDefault returns logger, or the standard logrus logger when logger is nil.
func LoggerOrDefault(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}
