package app

import (
	"strings"

	"github.com/macroscope/macroscope/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server settings.
// The level defaults to info and any format other than console encodes JSON.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if level == "" {
		level = "info"
	}
	format := "json"
	if strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "console") {
		format = "console"
	}
	return logger.InitWithFormat(level, format)
}
