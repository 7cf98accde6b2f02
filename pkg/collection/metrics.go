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

package collection

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName  = "envradar.collection"
	tracerName = "github.com/carverauto/envradar/pkg/collection"
)

type serviceMetrics struct {
	refreshes metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
	envs      metric.Int64ObservableGauge
	reg       metric.Registration
}

func newServiceMetrics(mp metric.MeterProvider, cache *Cache) (*serviceMetrics, error) {
	meter := mp.Meter(meterName)

	m := &serviceMetrics{}

	var err error

	if m.refreshes, err = meter.Int64Counter("envradar_collection_refreshes_total",
		metric.WithDescription("Discovery passes completed")); err != nil {
		return nil, err
	}

	if m.failures, err = meter.Int64Counter("envradar_collection_refresh_failures_total",
		metric.WithDescription("Discovery passes that ended with an error")); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram("envradar_collection_refresh_duration_seconds",
		metric.WithDescription("Wall time of discovery passes"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	if m.envs, err = meter.Int64ObservableGauge("envradar_collection_environments",
		metric.WithDescription("Environments currently in the collection")); err != nil {
		return nil, err
	}

	m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.envs, int64(cache.Len()))

		return nil
	}, m.envs)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func scopeAttr(scope string) metric.MeasurementOption {
	if scope == "" {
		scope = "full"
	}

	return metric.WithAttributes(attribute.String("scope", scope))
}

func (m *serviceMetrics) recordRefresh(ctx context.Context, scope string, start time.Time, err error) {
	opt := scopeAttr(scope)

	m.refreshes.Add(ctx, 1, opt)
	m.duration.Record(ctx, time.Since(start).Seconds(), opt)

	if err != nil {
		m.failures.Add(ctx, 1, opt)
	}
}

func (m *serviceMetrics) close() {
	if m.reg != nil {
		_ = m.reg.Unregister()
	}
}
