// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the process-wide structured logger used by otus-mcp.
//
// The logger is a thin layer over toolhive-core/logging. Components that
// accept a *slog.Logger should receive [Get]; the package-level helpers exist
// for call sites that log without a logger of their own.
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// visiblePrefix is how many characters of a secret-ish value survive Redact.
const visiblePrefix = 6

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(logging.New())
}

func get() *slog.Logger {
	return singleton.Load()
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return get()
}

// Set replaces the process logger. Tests use it to capture output.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Debugf logs a formatted message at debug level.
func Debugf(msg string, args ...any) {
	get().Debug(fmt.Sprintf(msg, args...))
}

// Debugw logs a message at debug level with key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	get().Debug(msg, keysAndValues...)
}

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) {
	get().Info(fmt.Sprintf(msg, args...))
}

// Infow logs a message at info level with key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	get().Info(msg, keysAndValues...)
}

// Warnf logs a formatted message at warning level.
func Warnf(msg string, args ...any) {
	get().Warn(fmt.Sprintf(msg, args...))
}

// Warnw logs a message at warning level with key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	get().Warn(msg, keysAndValues...)
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
}

// Errorw logs a message at error level with key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	get().Error(msg, keysAndValues...)
}

// NewLogr returns a logr.Logger backed by the process logger.
func NewLogr() logr.Logger {
	return logr.FromSlogHandler(get().Handler())
}

// Redact shortens an opaque credential-like value (state token, code,
// client id) to a prefix that is still useful for correlating log lines.
// Bearer tokens, refresh tokens and PKCE verifiers must never be logged,
// not even through Redact.
func Redact(value string) string {
	if len(value) <= visiblePrefix {
		return "***"
	}
	return value[:visiblePrefix] + "..."
}

// Initialize configures the process logger from the environment.
// UNSTRUCTURED_LOGS=false switches to JSON output and the viper "debug" key
// lowers the level to debug.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv is Initialize with an injectable environment reader.
func InitializeWithEnv(envReader env.Reader) {
	var opts []logging.Option

	if unstructuredLogsWithEnv(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}

	if viper.GetBool("debug") {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}

	singleton.Store(logging.New(opts...))
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructuredLogs, err := strconv.ParseBool(envReader.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		// unset or unparsable: default to human readable output
		return true
	}
	return unstructuredLogs
}
