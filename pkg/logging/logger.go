// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging configures the process-wide zap logger.
//
// Operator commands stay silent unless LUMEN_LOG_LEVEL or --log-level asks
// for output. Long-running services pass an explicit default level.
package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnvVar selects the level when no explicit level is given.
// Valid values: "debug", "info", "warn", "error".
const LogLevelEnvVar = "LUMEN_LOG_LEVEL"

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// ParseLevel maps a level name to a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds a console logger writing to stderr at the given level
func New(level string) (*zap.Logger, error) {
	zapLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// Initialize installs the global logger.
// If level is empty the environment variable is consulted, then fallback.
// An empty result means silent mode.
func Initialize(level, fallback string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		level = fallback
	}

	var l *zap.Logger
	if level == "" {
		l = zap.NewNop()
	} else {
		var err error
		if l, err = New(level); err != nil {
			return err
		}
	}

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// GetLogger returns the global logger, a no-op logger before Initialize
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Named returns a child of the global logger
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// RawBytes returns hex and ascii fields for a frame dump
func RawBytes(data []byte) []zap.Field {
	return []zap.Field{
		zap.Int("length", len(data)),
		zap.String("hex", hex.EncodeToString(data)),
		zap.String("ascii", asciiDump(data)),
	}
}

// LogRawBytes logs raw bytes at debug level
func LogRawBytes(l *zap.Logger, label string, data []byte) {
	if ce := l.Check(zapcore.DebugLevel, label); ce != nil {
		ce.Write(RawBytes(data)...)
	}
}

func asciiDump(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	_ = GetLogger().Sync()
}
