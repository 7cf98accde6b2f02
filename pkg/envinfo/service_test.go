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

package envinfo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/envinfo/envinfotest"
	"github.com/carverauto/envradar/pkg/models"
)

func TestGetInfoSingleFlight(t *testing.T) {
	prober := envinfotest.New().Add("/opt/py/3.9/bin/python", 3, 9, 1)
	prober.Gate = make(chan struct{})

	svc, err := envinfo.NewService(prober)
	require.NoError(t, err)

	const callers = 16

	var wg sync.WaitGroup

	results := make([]*envinfo.InterpreterInfo, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			info, err := svc.GetInfo(context.Background(), "/opt/py/3.9/bin/python")
			assert.NoError(t, err)

			results[i] = info
		}(i)
	}

	require.Eventually(t, func() bool {
		return prober.Calls("/opt/py/3.9/bin/python") == 1
	}, time.Second, 5*time.Millisecond)

	close(prober.Gate)
	wg.Wait()

	assert.Equal(t, 1, prober.Calls("/opt/py/3.9/bin/python"))

	for _, info := range results {
		require.NotNil(t, info)
		assert.Same(t, results[0], info)
	}
}

func TestGetInfoCachesSuccessOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := envinfo.NewMockProber(ctrl)

	good := &envinfo.InterpreterInfo{Version: models.Version{Major: 3, Minor: 12, Micro: 0}}

	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), "/usr/bin/python3").Return(good, nil).Times(1),
		prober.EXPECT().Probe(gomock.Any(), "/gone/python").Return(nil, errors.New("vanished")).Times(2),
	)

	svc, err := envinfo.NewService(prober)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		info, err := svc.GetInfo(context.Background(), "/usr/bin/python3")
		require.NoError(t, err)
		assert.Equal(t, 12, info.Version.Minor)
	}

	for i := 0; i < 2; i++ {
		_, err := svc.GetInfo(context.Background(), "/gone/python")
		require.Error(t, err)
	}

	assert.Equal(t, 1, svc.Len())
}

func TestGetInfoCacheIsBounded(t *testing.T) {
	prober := envinfotest.New().Add("/a/python", 3, 8, 0).Add("/b/python", 3, 9, 0).Add("/c/python", 3, 10, 0)

	svc, err := envinfo.NewService(prober, envinfo.WithCacheSize(2))
	require.NoError(t, err)

	for _, p := range []string{"/a/python", "/b/python", "/c/python"} {
		_, err := svc.GetInfo(context.Background(), p)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, svc.Len())

	_, ok := svc.Cached("/a/python")
	assert.False(t, ok, "least recently used entry should be evicted")
}

func TestAbandonedProbeIsCancelled(t *testing.T) {
	prober := envinfotest.New().Add("/slow/python", 3, 11, 0)
	prober.Gate = make(chan struct{})

	svc, err := envinfo.NewService(prober)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		_, err := svc.GetInfo(ctx, "/slow/python")
		done <- err
	}()

	require.Eventually(t, func() bool { return prober.Calls("/slow/python") == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)

	// A fresh request starts a new probe instead of joining the abandoned one.
	close(prober.Gate)

	info, err := svc.GetInfo(context.Background(), "/slow/python")
	require.NoError(t, err)
	assert.Equal(t, 11, info.Version.Minor)
	assert.Equal(t, 2, prober.Calls("/slow/python"))
}

func TestServiceRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	prober := envinfotest.New().Add("/usr/bin/python3", 3, 12, 1)

	svc, err := envinfo.NewService(prober, envinfo.WithMeterProvider(provider))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.GetInfo(context.Background(), "/usr/bin/python3")
		require.NoError(t, err)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[m.Name] += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(1), got["envradar_envinfo_probes_total"])
	assert.Equal(t, int64(2), got["envradar_envinfo_cache_hits_total"])
}

func TestParseProbeOutput(t *testing.T) {
	info, err := envinfo.ParseProbeOutput([]byte(
		`{"versionInfo":[3,11,4,"final",0],"sysPrefix":"/opt/py","sysVersion":"3.11.4 (main)","is64Bit":true,"executable":"/opt/py/bin/python"}` + "\n"))
	require.NoError(t, err)

	assert.Equal(t, "3.11.4", info.Version.String())
	assert.Equal(t, "final", info.Version.Release)
	assert.Equal(t, models.ArchX64, info.Arch)
	assert.Equal(t, "/opt/py", info.SysPrefix)

	_, err = envinfo.ParseProbeOutput([]byte(`{"versionInfo":[3]}`))
	require.Error(t, err)

	_, err = envinfo.ParseProbeOutput([]byte(`not json`))
	require.Error(t, err)
}
