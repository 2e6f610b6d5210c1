package config

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the application logger. Output goes to file only, the
// terminal belongs to the dashboard. An empty file disables logging.
func NewLogger(level zapcore.Level, file string) (*zap.Logger, error) {
	if file == "" {
		return zap.NewNop(), nil
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{file}
	config.ErrorOutputPaths = []string{file}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config.Level = zap.NewAtomicLevelAt(level)

	return config.Build()
}
