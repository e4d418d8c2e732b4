// Package logging builds the process zap logger from configuration.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/pingparty/internal/config"
)

// New returns a logger for cfg. When cfg.ConfigFile is set it holds a
// complete zap.Config in yaml or json and Level and Format are ignored.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.ConfigFile != "" {
		b, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read logging config: %w", err)
		}
		if err := yaml.Unmarshal(b, &zc); err != nil {
			return nil, fmt.Errorf("parse logging config %s: %w", cfg.ConfigFile, err)
		}
	} else {
		var err error
		if zc, err = fromLevelFormat(cfg.Level, cfg.Format); err != nil {
			return nil, err
		}
	}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

func fromLevelFormat(level, format string) (zap.Config, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.Config{}, err
	}

	var zc zap.Config
	switch format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q", format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Sampling = nil
	return zc, nil
}
