package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogger(t *testing.T) {
	std := logrus.StandardLogger()
	prevOut, prevFormatter, prevLevel := std.Out, std.Formatter, std.Level
	t.Cleanup(func() {
		logrus.SetOutput(prevOut)
		logrus.SetFormatter(prevFormatter)
		logrus.SetLevel(prevLevel)
		logrus.SetReportCaller(false)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := ConfigureLogger(constant.DevelopmentEnvironment, config.LogConfig{LogLevel: "loud"})
		assert.Error(t, err)
	})

	t.Run("rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "engine.log")
		closer, err := ConfigureLogger(constant.ProductionEnvironment, config.LogConfig{LogLevel: "debug", OutputFile: path})
		require.NoError(t, err)

		assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
		assert.IsType(t, &logrus.JSONFormatter{}, std.Formatter)

		logrus.Info("engine started")
		require.NoError(t, closer.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "engine started")
	})
}
