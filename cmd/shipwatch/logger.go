package main

import (
	"github.com/rs/zerolog"

	"shipwatch/internal/config"
	"shipwatch/internal/sysutil"
)

func newLogger(cfg config.Config) zerolog.Logger {
	return sysutil.NewLogger(cfg.LogLevel, cfg.LogPretty).With().Str("service", "shipwatch").Logger()
}
