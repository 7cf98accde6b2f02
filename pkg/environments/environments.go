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

// Package environments assembles the discovery component: the source
// locators, the resolving stack behind the middleware, the worker boundary
// and the collection service on top.
package environments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/envradar/pkg/collection"
	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/kv"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/middleware"
	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/natsutil"
	"github.com/carverauto/envradar/pkg/sources"
	"github.com/carverauto/envradar/pkg/worker"
)

var (
	errNilConfig       = errors.New("configuration is required")
	errUnsupportedMode = errors.New("unsupported worker mode")
)

// Option configures Initialize and NewMiddleware.
type Option func(*options)

type options struct {
	log        logger.Logger
	meter      metric.MeterProvider
	tracer     trace.TracerProvider
	store      kv.KVStore
	prober     envinfo.Prober
	roots      locator.RootsProvider
	configPath string

	nonWorkspace func(settings config.Settings, log logger.Logger) []locator.Locator
	workspace    func(settings config.Settings, log logger.Logger) locator.Factory
}

func newOptions(opts []Option) options {
	o := options{
		log: logger.Wrap(zerolog.Nop()),
		nonWorkspace: func(settings config.Settings, log logger.Logger) []locator.Locator {
			return sources.NonWorkspace(settings, log)
		},
		workspace: sources.WorkspaceFactory,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithLogger sets the logger handed to every component.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meter = mp
	}
}

// WithTracerProvider traces refreshes on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithStore uses store instead of opening the configured one. The caller
// keeps ownership of store.
func WithStore(store kv.KVStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithProber replaces the interpreter prober.
func WithProber(p envinfo.Prober) Option {
	return func(o *options) {
		o.prober = p
	}
}

// WithRoots follows provider for the project roots.
func WithRoots(provider locator.RootsProvider) Option {
	return func(o *options) {
		o.roots = provider
	}
}

// WithConfigPath is forwarded to spawned stdio workers.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithLocators replaces the built-in sources.
func WithLocators(nonWorkspace func() []locator.Locator, workspace locator.Factory) Option {
	return func(o *options) {
		o.nonWorkspace = func(config.Settings, logger.Logger) []locator.Locator {
			return nonWorkspace()
		}
		o.workspace = func(config.Settings, logger.Logger) locator.Factory {
			return workspace
		}
	}
}

// SubLocators is the resolving locator stack and the workspace half that
// receives root changes.
type SubLocators struct {
	Resolver  *locator.Resolver
	Workspace *locator.WorkspaceLocators

	disposables events.Disposables
}

// Dispose releases the whole stack.
func (s *SubLocators) Dispose() {
	s.disposables.Dispose()
}

// CreateSubLocators builds sources -> extension locators -> reducer ->
// resolver. Roots are added through Workspace.
func CreateSubLocators(cfg *config.AppConfig, info *envinfo.Service, opts ...Option) *SubLocators {
	o := newOptions(opts)

	workspace := locator.NewWorkspaceLocators(o.log, o.workspace(cfg.Discovery, o.log))
	extension := locator.NewExtensionLocators(o.log, o.nonWorkspace(cfg.Discovery, o.log), workspace)
	reducer := locator.NewReducer(extension, o.log)
	resolver := locator.NewResolver(reducer, info, cfg.ResolveConcurrency, o.log)

	s := &SubLocators{Resolver: resolver, Workspace: workspace}
	s.disposables.Add(
		events.DisposableFunc(extension.Dispose),
		events.DisposableFunc(reducer.Dispose),
		events.DisposableFunc(resolver.Dispose),
	)

	return s
}

// NewMiddleware builds the API served in-process or by a worker.
func NewMiddleware(cfg *config.AppConfig, opts ...Option) (*middleware.EnvsMiddleware, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	o := newOptions(opts)

	prober := o.prober
	if prober == nil {
		prober = &envinfo.ExecProber{Timeout: time.Duration(cfg.ProbeTimeout)}
	}

	infoOpts := []envinfo.Option{envinfo.WithCacheSize(cfg.ResolveCacheSize), envinfo.WithLogger(o.log)}
	if o.meter != nil {
		infoOpts = append(infoOpts, envinfo.WithMeterProvider(o.meter))
	}

	info, err := envinfo.NewService(prober, infoOpts...)
	if err != nil {
		return nil, fmt.Errorf("create resolution service: %w", err)
	}

	sub := CreateSubLocators(cfg, info, opts...)

	return middleware.New(sub.Resolver, sub.Workspace, o.log, sub), nil
}

// Environments is the initialized discovery component.
type Environments struct {
	Service *collection.Service
	Store   kv.KVStore
	API     middleware.API

	roots   locator.RootsProvider
	log     logger.Logger
	cleanup events.Disposables
	once    sync.Once
}

// Initialize opens the state store, connects to the middleware in the
// configured worker mode and builds the collection service on top.
func Initialize(ctx context.Context, cfg *config.AppConfig, opts ...Option) (_ *Environments, err error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	o := newOptions(opts)
	log := logger.Component(o.log, "environments")

	e := &Environments{roots: o.roots, log: log}

	defer func() {
		if err != nil {
			e.Dispose()
		}
	}()

	if e.Store = o.store; e.Store == nil {
		if e.Store, err = kv.Open(ctx, cfg.State, o.log); err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}

		store := e.Store

		e.cleanup.Add(events.DisposableFunc(func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close state store")
			}
		}))
	}

	api, release, err := connect(ctx, cfg, o, opts)
	if err != nil {
		return nil, err
	}

	e.API = api
	e.cleanup.Add(events.DisposableFunc(release))

	if o.roots != nil {
		if initial := o.roots.Roots(); len(initial) > 0 {
			api.OnDidChangeWorkspaceFolders(models.RootsChangeEvent{Added: initial})
		}

		e.cleanup.Add(o.roots.OnDidChange().Subscribe(api.OnDidChangeWorkspaceFolders))
	}

	cache := collection.NewCache(ctx, collection.NewPersistentSnapshot(e.Store, o.log), o.log)
	e.cleanup.Add(events.DisposableFunc(cache.Dispose))

	if err := cache.Validate(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to validate cached environments")
	}

	svcOpts := []collection.Option{collection.WithLogger(o.log)}
	if o.meter != nil {
		svcOpts = append(svcOpts, collection.WithMeterProvider(o.meter))
	}

	if o.tracer != nil {
		svcOpts = append(svcOpts, collection.WithTracerProvider(o.tracer))
	}

	if e.Service, err = collection.NewService(middleware.NewLocator(api), cache, svcOpts...); err != nil {
		return nil, fmt.Errorf("create collection service: %w", err)
	}

	e.cleanup.Add(events.DisposableFunc(e.Service.Dispose))

	log.Info().Str("worker", string(cfg.Worker.Mode)).Int("cached", cache.Len()).Msg("Environments initialized")

	return e, nil
}

// Roots returns the current project roots.
func (e *Environments) Roots() []string {
	if e.roots == nil {
		return nil
	}

	return e.roots.Roots()
}

// Activate starts the initial refreshes; see Activate.
func (e *Environments) Activate(ctx context.Context) *Activation {
	return Activate(ctx, e.Service, e.Store, e.Roots(), e.log)
}

// Dispose releases everything Initialize created, newest first.
func (e *Environments) Dispose() {
	e.once.Do(e.cleanup.Dispose)
}

// connect returns the API for the configured worker mode and the function
// that releases it.
func connect(ctx context.Context, cfg *config.AppConfig, o options, opts []Option) (middleware.API, func(), error) {
	switch cfg.Worker.Mode {
	case config.WorkerInProcess, "":
		m, err := NewMiddleware(cfg, opts...)
		if err != nil {
			return nil, nil, err
		}

		return m, m.Dispose, nil
	case config.WorkerPipe:
		return connectPipe(cfg, o, opts)
	case config.WorkerStdio:
		return connectStdio(ctx, cfg, o)
	case config.WorkerGRPC:
		conn, err := worker.DialGRPC(ctx, cfg.Worker.Address)
		if err != nil {
			return nil, nil, err
		}

		client := worker.NewClient(conn, o.log)

		// The worker is shared with other clients, so it is not disposed.
		return client, func() { _ = client.Close() }, nil
	case config.WorkerNATS:
		nc, err := natsutil.Connect(cfg.Worker.Address, "envradar", cfg.Worker.TLS)
		if err != nil {
			return nil, nil, err
		}

		conn, err := worker.DialNATS(ctx, nc, cfg.Worker.Subject)
		if err != nil {
			nc.Close()

			return nil, nil, err
		}

		client := worker.NewClient(conn, o.log)

		return client, func() {
			_ = client.Close()
			nc.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnsupportedMode, cfg.Worker.Mode)
	}
}

// connectPipe runs the middleware behind an in-process worker boundary.
func connectPipe(cfg *config.AppConfig, o options, opts []Option) (middleware.API, func(), error) {
	m, err := NewMiddleware(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	clientEnd, serverEnd := worker.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := worker.NewServer(m, o.log).Serve(ctx, serverEnd); err != nil {
			o.log.Warn().Err(err).Msg("In-process worker stopped")
		}
	}()

	client := worker.NewClient(clientEnd, o.log)

	return client, func() {
		client.Dispose()
		cancel()
		<-done
		m.Dispose()
	}, nil
}

// connectStdio spawns a worker process and talks to it over stdio.
func connectStdio(ctx context.Context, cfg *config.AppConfig, o options) (middleware.API, func(), error) {
	command := cfg.Worker.Command
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locate worker executable: %w", err)
		}

		command = self
	}

	args := []string{"worker", "--stdio"}
	if o.configPath != "" {
		args = append(args, "--config", o.configPath)
	}

	// The process lives until released, not until ctx ends.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	conn, err := worker.Spawn(procCtx, o.log, command, args...)
	if err != nil {
		cancel()

		return nil, nil, err
	}

	client := worker.NewClient(conn, o.log)

	return client, func() {
		client.Dispose()
		cancel()
	}, nil
}
