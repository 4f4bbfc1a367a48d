package logger

import (
	"os"

	"github.com/pogbonna-IAL/content-gateway/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Console-formatted in
// development, structured JSON in every other environment.
func New(cfg *config.Config) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
