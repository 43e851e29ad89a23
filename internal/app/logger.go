package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/domain"
)

// NewLogger builds the root logger from logging settings.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: zerolog.TimeFieldFormat}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "agora").Logger(), nil
}

func domainLockout(cfg config.AuthConfig) domain.LockoutPolicy {
	return domain.LockoutPolicy{
		Threshold: cfg.LockoutThreshold,
		Base:      cfg.LockoutBase,
		Max:       cfg.LockoutMax,
	}
}
