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
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)


// RefreshOptions tune TriggerRefresh.
type RefreshOptions struct {
	// IfNotTriggeredAlready skips the refresh when the scope already
	// completed one. A running refresh for the scope is still joined.
	IfNotTriggeredAlready bool
}

type refresh struct {
	query *models.Query
	key   string
	done  chan struct{}
	err   error
}

func (r *refresh) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Service owns the collection: it answers from the cache and keeps it
// current by running discovery passes through the resolving locator.
type Service struct {
	locator locator.ResolvingLocator
	cache   *Cache
	log     logger.Logger
	metrics *serviceMetrics
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	refreshes  map[string]*refresh
	discovered map[string]bool
	scheduled  map[string]bool
	disposed   bool

	found      *events.Emitter[models.ResolvedEnv]
	onChanged  *events.Emitter[models.ChangeEvent]
	onProgress *events.Emitter[models.ProgressStage]
	subs       events.Disposables
}

var _ locator.ResolvingLocator = (*Service)(nil)

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	meter  metric.MeterProvider
	tracer trace.TracerProvider
	log    logger.Logger
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) {
		o.meter = mp
	}
}

// WithTracerProvider traces refreshes on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) {
		o.tracer = tp
	}
}

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(o *serviceOptions) {
		o.log = log
	}
}

// NewService wires a collection over loc and cache. A non-empty cache marks
// the full scope as discovered so early queries answer from the snapshot.
func NewService(loc locator.ResolvingLocator, cache *Cache, opts ...Option) (*Service, error) {
	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.meter == nil {
		o.meter = otel.GetMeterProvider()
	}

	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}

	m, err := newServiceMetrics(o.meter, cache)
	if err != nil {
		return nil, fmt.Errorf("create collection metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		locator:    loc,
		cache:      cache,
		log:        logger.Component(o.log, "collection"),
		metrics:    m,
		tracer:     o.tracer.Tracer(tracerName),
		ctx:        ctx,
		cancel:     cancel,
		refreshes:  make(map[string]*refresh),
		discovered: make(map[string]bool),
		scheduled:  make(map[string]bool),
		found:      events.NewEmitter[models.ResolvedEnv](),
		onChanged:  events.NewEmitter[models.ChangeEvent](),
		onProgress: events.NewEmitter[models.ProgressStage](),
	}

	if cache.Len() > 0 {
		s.discovered[""] = true
	}

	s.subs.Add(
		cache.OnChanged().Subscribe(s.onChanged.Fire),
		loc.OnChanged().Subscribe(s.scheduleNewRefresh),
	)

	return s, nil
}

// Cache returns the underlying cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// OnChanged fires for collection changes and, after the follow-up refresh
// completes, for change events reported by the locators.
func (s *Service) OnChanged() events.Event[models.ChangeEvent] {
	return s.onChanged
}

// OnProgress reports discovery stages of every refresh.
func (s *Service) OnProgress() events.Event[models.ProgressStage] {
	return s.onProgress
}

// RefreshState reports whether any refresh is running.
func (s *Service) RefreshState() models.RefreshState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.refreshes) > 0 {
		return models.RefreshRunning
	}

	return models.RefreshIdle
}

// GetEnvs returns the cached environments matching query.
func (s *Service) GetEnvs(query *models.Query) []models.ResolvedEnv {
	return s.cache.GetEnvs(query)
}

// ResolveEnv answers from the cache when the entry is complete; otherwise it
// resolves through the locator and stores the result.
func (s *Service) ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error) {
	path = pathutil.TrimQuotes(path)

	cached, ok := s.cache.GetLatestInfo(path)
	if ok && s.cache.IsComplete(path) {
		return cached, nil
	}

	env, err := s.locator.ResolveEnv(ctx, path)
	if err != nil {
		return nil, err
	}

	if env == nil {
		if ok {
			return cached, nil
		}

		return nil, nil
	}

	s.cache.AddEnv(*env, true)

	if err := s.cache.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist resolved environment")
	}

	return env, nil
}

// TriggerRefresh runs a discovery pass for query and waits for it.
func (s *Service) TriggerRefresh(ctx context.Context, query *models.Query, opts RefreshOptions) error {
	r, err := s.startRefresh(query, opts)
	if err != nil || r == nil {
		return err
	}

	return r.wait(ctx)
}

// StartRefresh begins a refresh without waiting. The channel yields the
// refresh's result once.
func (s *Service) StartRefresh(query *models.Query, opts RefreshOptions) <-chan error {
	out := make(chan error, 1)

	r, err := s.startRefresh(query, opts)
	if err != nil || r == nil {
		out <- err
		close(out)

		return out
	}

	go func() {
		<-r.done
		out <- r.err
		close(out)
	}()

	return out
}

func (s *Service) isDiscoveredLocked(query *models.Query) bool {
	return s.discovered[""] || s.discovered[query.Key()]
}

// runningLocked returns the refresh a request for query should join.
func (s *Service) runningLocked(query *models.Query) *refresh {
	if r, ok := s.refreshes[query.Key()]; ok {
		return r
	}

	return s.refreshes[""]
}

func (s *Service) startRefresh(query *models.Query, opts RefreshOptions) (*refresh, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Refreshes requested after Dispose are no-ops.
	if s.disposed {
		return nil, nil
	}

	if r := s.runningLocked(query); r != nil {
		return r, nil
	}

	if opts.IfNotTriggeredAlready && s.isDiscoveredLocked(query) {
		return nil, nil
	}

	return s.launchLocked(query), nil
}

func (s *Service) launchLocked(query *models.Query) *refresh {
	r := &refresh{query: query, key: query.Key(), done: make(chan struct{})}

	var waitFor []*refresh

	for _, other := range s.refreshes {
		if other.query.Overlaps(query) {
			waitFor = append(waitFor, other)
		}
	}

	s.refreshes[r.key] = r

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.run(r, waitFor)
	}()

	return r
}

func (s *Service) run(r *refresh, waitFor []*refresh) {
	for _, other := range waitFor {
		select {
		case <-other.done:
		case <-s.ctx.Done():
		}
	}

	start := time.Now()

	ctx, span := s.tracer.Start(s.ctx, "envradar.refresh",
		trace.WithAttributes(attribute.String("envradar.scope", scopeName(r.key))))

	err := s.discover(ctx, r.query)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()

	s.metrics.recordRefresh(context.WithoutCancel(ctx), r.key, start, err)

	s.mu.Lock()
	if err == nil {
		s.discovered[r.key] = true
	}

	if s.refreshes[r.key] == r {
		delete(s.refreshes, r.key)
	}
	s.mu.Unlock()

	r.err = err
	close(r.done)

	log := s.log.Debug()
	if err != nil {
		log = s.log.Warn().Err(err)
	}

	log.Str("scope", scopeName(r.key)).Dur("took", time.Since(start)).Msg("Refresh finished")
}

func scopeName(key string) string {
	if key == "" {
		return "full"
	}

	return key
}

// discover runs one pass and reconciles the cache with what it saw.
func (s *Service) discover(ctx context.Context, query *models.Query) error {
	s.onProgress.Fire(models.StageDiscoveryStarted)

	it := s.locator.IterEnvs(query)
	defer it.Close()

	seen := make(map[string]bool)

	sub := it.OnUpdated().Subscribe(func(ev models.UpdateEvent[models.ResolvedEnv]) {
		if ev.IsProgress() {
			if ev.Stage == models.StageAllPathsDiscovered {
				s.onProgress.Fire(ev.Stage)
			}

			return
		}

		if ev.Update == nil {
			if ev.Old != nil {
				delete(seen, key(ev.Old.Executable))
			}

			s.cache.UpdateEnv(ev.Old, nil)

			return
		}

		if ev.Old != nil && key(ev.Old.Executable) != key(ev.Update.Executable) {
			delete(seen, key(ev.Old.Executable))
		}

		seen[key(ev.Update.Executable)] = true

		s.cache.UpdateEnv(ev.Old, ev.Update)
		s.found.Fire(*ev.Update)
	})
	defer sub.Dispose()

	for {
		env, ok := it.Next(ctx)
		if !ok {
			break
		}

		seen[key(env.Executable)] = true

		s.cache.AddEnv(env, true)
		s.found.Fire(env)
	}

	defer s.onProgress.Fire(models.StageDiscoveryFinished)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := it.Err(); err != nil {
		// A partial pass must not evict anything.
		_ = s.cache.Flush(ctx)

		return fmt.Errorf("discovery pass failed: %w", err)
	}

	return s.cache.Reconcile(ctx, seen, query)
}

// scheduleNewRefresh queues one follow-up refresh per scope for a locator
// change event and re-fires the event once that refresh completes.
func (s *Service) scheduleNewRefresh(e models.ChangeEvent) {
	scope := e.Scope()
	k := scope.Key()

	s.mu.Lock()
	if s.disposed || s.scheduled[k] {
		s.mu.Unlock()

		return
	}

	s.scheduled[k] = true
	running := s.refreshes[k]
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		if running != nil {
			// It may have missed the change.
			_ = running.wait(s.ctx)
		}

		s.mu.Lock()
		delete(s.scheduled, k)

		if s.disposed {
			s.mu.Unlock()

			return
		}

		r := s.runningLocked(scope)
		if r == nil {
			r = s.launchLocked(scope)
		}
		s.mu.Unlock()

		if err := r.wait(s.ctx); err != nil {
			s.log.Debug().Err(err).Str("scope", scopeName(k)).Msg("Scheduled refresh did not complete")

			return
		}

		s.onChanged.Fire(e)
	}()
}

// IterEnvs yields the cached environments matching query, then, while a
// refresh for the scope runs, new environments as items and changes to
// yielded ones as updates. A refresh is started when the scope was never
// discovered.
func (s *Service) IterEnvs(query *models.Query) *locator.Iterator[models.ResolvedEnv] {
	return locator.NewIterator(func(ctx context.Context, sink *locator.Sink[models.ResolvedEnv]) error {
		q := newEventQueue()

		subs := events.Combine(
			s.found.Subscribe(q.pushFound),
			s.cache.OnChanged().Subscribe(q.pushChange),
		)
		defer subs.Dispose()

		s.mu.Lock()
		disposed := s.disposed
		r := s.runningLocked(query)

		if !disposed && r == nil && !s.isDiscoveredLocked(query) {
			r = s.launchLocked(query)
		}
		s.mu.Unlock()

		if disposed {
			return nil
		}

		y := newYielder(query, sink)

		for _, env := range s.cache.GetEnvs(query) {
			if !y.item(env) {
				return nil
			}
		}

		if r == nil {
			return nil
		}

		sink.Update(models.ProgressEvent[models.ResolvedEnv](models.StageDiscoveryStarted))

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-q.signal:
				if !y.drain(q) {
					return nil
				}
			case <-r.done:
				y.drain(q)

				if r.err != nil && !errors.Is(r.err, context.Canceled) {
					s.log.Debug().Err(r.err).Msg("Refresh behind iteration failed")
				}

				return nil
			}
		}
	})
}

// Dispose stops refreshes and releases the locator subscriptions. Later
// calls are no-ops.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()

		return
	}

	s.disposed = true
	s.mu.Unlock()

	s.subs.Dispose()
	s.cancel()
	s.wg.Wait()

	s.metrics.close()
	s.found.Dispose()
	s.onChanged.Dispose()
	s.onProgress.Dispose()
}
