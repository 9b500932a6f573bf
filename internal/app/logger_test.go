package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/macroscope/macroscope/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(logger.Replace(logger.Logger()))

	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "DEBUG", LogFormat: "console"}))
	require.True(t, logger.Logger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, ConfigureLogging(ServerConfig{}))
	require.False(t, logger.Logger().Core().Enabled(zap.DebugLevel))
	require.True(t, logger.Logger().Core().Enabled(zap.InfoLevel))

	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "warn", LogFormat: "xml"}))
	require.False(t, logger.Logger().Core().Enabled(zap.InfoLevel))
}
