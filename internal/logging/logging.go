// Package logging provides the engine's global structured logger.
package logging

import (
	"go.uber.org/zap"
)

// Log is the configured logger, swappable in tests via Configure.
var Log *zap.SugaredLogger

// Cfg is exposed for dynamic log-level reconfiguration between runs.
var Cfg zap.Config

func init() {
	Cfg = zap.NewProductionConfig()
	logger, err := Cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = logger.Sugar()
}

// Configure rebuilds Log for development runs, with human-readable output
// and the given minimum level ("debug", "info", "warn", "error").
func Configure(development bool, level string) error {
	if development {
		Cfg = zap.NewDevelopmentConfig()
	} else {
		Cfg = zap.NewProductionConfig()
	}
	if level != "" {
		var lvl zap.AtomicLevel
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
		Cfg.Level = lvl
	}
	logger, err := Cfg.Build()
	if err != nil {
		return err
	}
	Log = logger.Sugar()
	return nil
}

// WithStage returns a child logger tagged with the pipeline stage name, the
// unit every component log line is attributed to (spec.md §7).
func WithStage(stage string) *zap.SugaredLogger {
	return Log.With("stage", stage)
}
