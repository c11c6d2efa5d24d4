package commands

import (
	"go.uber.org/zap"
)

// log is the logger shared by every command. It starts as a no-op so
// cobra machinery (help, completion) that runs before InitLogger stays
// quiet.
var log = zap.NewNop()

// InitLogger builds the CLI logger. Logs go to stderr in both modes so
// stdout carries only command output (forecast tables, JSON).
func InitLogger(jsonOutput bool, verbosity int) error {
	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	if verbosity > 0 {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	log = logger
	return nil
}
