// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package util

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	gLogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	gLogger   atomic.Pointer[zap.Logger]
)

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = gLogLevel
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	gLogger.Store(logger)
}

// SetLogger replaces the process logger. It returns the previous one so
// tests can restore it.
func SetLogger(logger *zap.Logger) *zap.Logger {
	return gLogger.Swap(logger.WithOptions(zap.AddCallerSkip(1)))
}

// RestoreLogger puts back a logger returned by SetLogger.
func RestoreLogger(logger *zap.Logger) {
	gLogger.Store(logger)
}

func SetLogLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	gLogLevel.SetLevel(lvl)
	return nil
}

func Debug(msg string, fields ...zap.Field) {
	gLogger.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	gLogger.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	gLogger.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	gLogger.Load().Error(msg, fields...)
}

func Sync() {
	_ = gLogger.Load().Sync()
}
