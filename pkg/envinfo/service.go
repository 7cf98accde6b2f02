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

package envinfo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/logger"
)

const (
	// DefaultCacheSize bounds the number of cached interpreter records.
	DefaultCacheSize = 1024

	meterName = "envradar.envinfo"
)

var errUnexpectedResult = errors.New("unexpected probe result type")

// flight tracks the callers waiting on one in-progress probe.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Service resolves interpreter info with at most one probe in flight per
// canonical path. Successful results are kept in a bounded LRU; failures are
// not cached so a later request retries.
type Service struct {
	prober Prober
	log    logger.Logger
	cache  *lru.Cache[string, *InterpreterInfo]
	group  singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight

	probes   metric.Int64Counter
	hits     metric.Int64Counter
	failures metric.Int64Counter
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	cacheSize int
	meter     metric.MeterProvider
	log       logger.Logger
}

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(size int) Option {
	return func(o *serviceOptions) {
		o.cacheSize = size
	}
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) {
		o.meter = mp
	}
}

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(o *serviceOptions) {
		o.log = log
	}
}

// NewService builds a Service on prober.
func NewService(prober Prober, opts ...Option) (*Service, error) {
	o := serviceOptions{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}

	if o.meter == nil {
		o.meter = otel.GetMeterProvider()
	}

	cache, err := lru.New[string, *InterpreterInfo](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolution cache: %w", err)
	}

	s := &Service{
		prober:  prober,
		log:     logger.Component(o.log, "envinfo"),
		cache:   cache,
		flights: make(map[string]*flight),
	}

	meter := o.meter.Meter(meterName)

	if s.probes, err = meter.Int64Counter("envradar_envinfo_probes_total",
		metric.WithDescription("Interpreter probes started")); err != nil {
		return nil, err
	}

	if s.hits, err = meter.Int64Counter("envradar_envinfo_cache_hits_total",
		metric.WithDescription("Resolutions served from cache")); err != nil {
		return nil, err
	}

	if s.failures, err = meter.Int64Counter("envradar_envinfo_probe_failures_total",
		metric.WithDescription("Interpreter probes that failed")); err != nil {
		return nil, err
	}

	return s, nil
}

// Cached returns the cached info for executable without probing.
func (s *Service) Cached(executable string) (*InterpreterInfo, bool) {
	return s.cache.Get(pathutil.NormCase(executable))
}

// Len reports the number of cached entries.
func (s *Service) Len() int {
	return s.cache.Len()
}

// Purge drops every cached entry.
func (s *Service) Purge() {
	s.cache.Purge()
}

// GetInfo returns interpreter info for executable. Concurrent callers for the
// same canonical path share one probe. A caller whose ctx ends stops waiting;
// when the last waiter leaves, the probe is cancelled.
func (s *Service) GetInfo(ctx context.Context, executable string) (*InterpreterInfo, error) {
	key := pathutil.NormCase(executable)

	if info, ok := s.cache.Get(key); ok {
		s.hits.Add(ctx, 1)

		return info, nil
	}

	f := s.join(ctx, key)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		if info, ok := s.cache.Get(key); ok {
			return info, nil
		}

		s.probes.Add(f.ctx, 1)

		info, err := s.prober.Probe(f.ctx, executable)
		if err != nil {
			s.failures.Add(f.ctx, 1)

			return nil, err
		}

		s.cache.Add(key, info)

		return info, nil
	})

	select {
	case res := <-ch:
		s.leave(key, f, false)

		if res.Err != nil {
			return nil, res.Err
		}

		info, ok := res.Val.(*InterpreterInfo)
		if !ok {
			return nil, errUnexpectedResult
		}

		return info, nil
	case <-ctx.Done():
		s.leave(key, f, true)

		return nil, ctx.Err()
	}
}

func (s *Service) join(ctx context.Context, key string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[key] = f
	}

	f.waiters++

	return f
}

func (s *Service) leave(key string, f *flight, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}

	if s.flights[key] == f {
		delete(s.flights, key)
	}

	if abandoned {
		// Nobody is left to receive the result; let the next caller start fresh.
		s.group.Forget(key)
		s.log.Debug().Str("path", key).Msg("Abandoned interpreter probe")
	}

	f.cancel()
}
