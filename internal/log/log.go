// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is our global, configured logger.
var Log *zap.SugaredLogger

// Cfg is the logger configuration which is exposed for the sake of dynamic
// logging level reconfiguration.
var Cfg zap.Config

func init() {
	Cfg = zap.NewProductionConfig()
	logger, err := Cfg.Build()

	if err != nil {
		panic(err)
	}

	Log = logger.Sugar()
}

// Setup reconfigures the global logger from the --log-level and --json-logs
// options. The JSON encoding is compatible with GKE log ingestion.
func Setup(level string, jsonLogs bool) error {
	lvl, err := zapcore.ParseLevel(normalizeLevel(level))
	if err != nil {
		return errors.Wrapf(err, "unknown log level %q", level)
	}

	Cfg = zap.NewProductionConfig()
	Cfg.Level.SetLevel(lvl)
	if !jsonLogs {
		Cfg.Encoding = "console"
		Cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	logger, err := Cfg.Build()
	if err != nil {
		return errors.Wrap(err, "could not build logger")
	}

	Log = logger.Sugar()
	return nil
}

// zapcore spells it "warn".
func normalizeLevel(level string) string {
	if level == "warning" {
		return "warn"
	}
	return level
}
