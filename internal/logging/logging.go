// Package logging builds the process logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger writing to stdout. format is "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	return buildConfig(level, format).Build()
}

// NewCLI returns a console logger on stderr so command output stays clean.
func NewCLI(level string) (*zap.Logger, error) {
	cfg := buildConfig(level, "console")
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func buildConfig(level, format string) zap.Config {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	encoding := "json"
	if strings.EqualFold(format, "console") {
		encoding = "console"
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      encoding == "console",
		Encoding:         encoding,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderCfg,
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
