package infrastructure

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 5
	defaultLogMaxAgeDays = 14
)

// ConfigureLogger sets up the standard logrus logger. With an output file configured, logs go to
// stdout and a rotating file; the returned closer flushes that file.
func ConfigureLogger(env string, cfg config.LogConfig) (io.Closer, error) {
	logrus.SetReportCaller(cfg.ShowCaller)

	if env == constant.ProductionEnvironment {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(logLevel)

	outputFile := strings.TrimSpace(cfg.OutputFile)
	if outputFile == "" {
		logrus.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return nil, err
	}

	fileWriter := &lumberjack.Logger{
		Filename:   outputFile,
		MaxSize:    valueOrDefault(cfg.MaxSizeMB, defaultLogMaxSizeMB),
		MaxBackups: valueOrDefault(cfg.MaxBackups, defaultLogMaxBackups),
		MaxAge:     valueOrDefault(cfg.MaxAgeDays, defaultLogMaxAgeDays),
		Compress:   cfg.Compress,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, fileWriter))

	return fileWriter, nil
}

func valueOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
