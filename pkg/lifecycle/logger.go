/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package lifecycle wires process-level concerns: logger construction,
// telemetry startup and shutdown, and signal handling.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/envradar/pkg/logger"
)

// CreateLogger creates a new logger instance with the provided configuration.
// This returns a logger that can be injected into services.
func CreateLogger(ctx context.Context, config *logger.Config) (logger.Logger, error) {
	l, err := logger.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return l, nil
}

// CreateComponentLogger creates a logger for a specific component.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	l, err := CreateLogger(ctx, config)
	if err != nil {
		return nil, err
	}

	return logger.Component(l, component), nil
}

// StartTelemetry starts OTLP metric and trace export when enabled. It is a
// no-op otherwise.
func StartTelemetry(ctx context.Context, config *logger.Config, log logger.Logger) {
	if config == nil || !config.OTel.Enabled {
		return
	}

	if _, err := logger.InitializeMetrics(ctx, config.OTel, 0); err != nil && !errors.Is(err, logger.ErrOTelDisabled) {
		log.Warn().Err(err).Msg("Metrics export unavailable")
	}

	if _, err := logger.InitializeTracing(ctx, config.OTel); err != nil && !errors.Is(err, logger.ErrOTelDisabled) {
		log.Warn().Err(err).Msg("Trace export unavailable")
	}
}

// ShutdownLogger shuts down the logger, flushing any pending logs.
func ShutdownLogger() error {
	return logger.Shutdown()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
