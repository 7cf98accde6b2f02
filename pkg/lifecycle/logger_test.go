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

package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/pkg/logger"
)

func TestCreateComponentLogger(t *testing.T) {
	log, err := CreateComponentLogger(context.Background(), "worker", &logger.Config{Level: "debug"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestStartTelemetryDisabledIsNoop(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")

	StartTelemetry(context.Background(), nil, logger.NewTestLogger())
	StartTelemetry(context.Background(), logger.DefaultConfig(), logger.NewTestLogger())
}

func TestSignalContextFollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())

	ctx, cancel := SignalContext(parent)
	defer cancel()

	require.NoError(t, ctx.Err())

	cancelParent()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
