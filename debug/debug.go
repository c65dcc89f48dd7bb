// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package debug provides minimal logging interfaces used by the connector
// core to surface diagnostic information without forcing a particular
// logging implementation on callers.
package debug

import (
	"context"
	"log"
)

// Logger is the interface used for logging debug messages.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// ContextLogger is like Logger, but accepts a context as the first argument
// so implementations can attach request-scoped fields.
type ContextLogger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
}

// StdLogger wraps the standard library's *log.Logger as a Logger.
type StdLogger struct {
	L *log.Logger
}

// Debugf implements Logger.
func (s StdLogger) Debugf(format string, args ...interface{}) {
	s.L.Printf(format, args...)
}

// ContextStdLogger wraps the standard library's *log.Logger as a
// ContextLogger, ignoring the context.
type ContextStdLogger struct {
	L *log.Logger
}

// Debugf implements ContextLogger.
func (s ContextStdLogger) Debugf(_ context.Context, format string, args ...interface{}) {
	s.L.Printf(format, args...)
}

// NullLogger discards all log messages. It is the default used when no
// logger is configured.
type NullLogger struct{}

// Debugf implements Logger.
func (NullLogger) Debugf(string, ...interface{}) {}

// NullContextLogger discards all log messages. It is the default used when
// no context logger is configured.
type NullContextLogger struct{}

// Debugf implements ContextLogger.
func (NullContextLogger) Debugf(context.Context, string, ...interface{}) {}
