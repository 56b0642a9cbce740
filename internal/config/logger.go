package config

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig overrides the zap logger's level and output.
type LogConfig struct {
	// Path is a log file appended to alongside stderr.
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// CreateLogger builds a development logger when debug is set, a production
// logger otherwise.
func (c *Config) CreateLogger(debug bool) (*zap.Logger, error) {
	var zc zap.Config
	if debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	if c.Logger != nil {
		if c.Logger.Level != "" {
			level, err := zapcore.ParseLevel(c.Logger.Level)
			if err != nil {
				return nil, errors.Wrap(err, "create logger")
			}
			zc.Level = zap.NewAtomicLevelAt(level)
		}
		if c.Logger.Path != "" {
			zc.OutputPaths = append(zc.OutputPaths, c.Logger.Path)
			zc.ErrorOutputPaths = append(zc.ErrorOutputPaths, c.Logger.Path)
		}
	}

	logger, err := zc.Build()
	return logger, errors.Wrap(err, "create logger")
}
