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

// Package grpc hosts gRPC services with the interceptors, keepalive policy,
// health service and telemetry shared by envradar's network transports.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	grpcstats "google.golang.org/grpc/stats"
	"google.golang.org/grpc/status"

	"github.com/carverauto/envradar/pkg/logger"
)

// ServerOption is a function type that modifies Server configuration.
type ServerOption func(*Server)

type loggerKey struct{}

var (
	errInternalError          = status.Error(codes.Internal, "internal error")
	errHealthServerRegistered = errors.New("health server already registered")
)

const shutdownTimer = 5 * time.Second

// Server wraps a gRPC server with additional functionality.
type Server struct {
	srv               *grpc.Server
	healthCheck       *health.Server
	addr              string
	logger            logger.Logger
	mu                sync.RWMutex
	services          map[string]struct{}
	serverOpts        []grpc.ServerOption
	healthRegistered  bool
	telemetryDisabled bool
	telemetryFilter   TelemetryFilter
}

// NewServer creates a new gRPC server with the given configuration.
func NewServer(addr string, log logger.Logger, opts ...ServerOption) *Server {
	log = logger.Component(log, "grpc")

	s := &Server{
		addr:     addr,
		logger:   log,
		services: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	defaultOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(log),
			RecoveryInterceptor(log),
		),
		grpc.ChainStreamInterceptor(
			StreamLoggingInterceptor(log),
			StreamRecoveryInterceptor(log),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     10 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  120 * time.Second,
			Timeout:               20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             120 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if !s.telemetryDisabled {
		handlerOpts := []otelgrpc.Option{}
		if s.telemetryFilter != nil {
			handlerOpts = append(handlerOpts, otelgrpc.WithFilter(func(info *grpcstats.RPCTagInfo) bool {
				return s.telemetryFilter(info)
			}))
		}

		defaultOpts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler(handlerOpts...))}, defaultOpts...)
	}

	s.serverOpts = append(defaultOpts, s.serverOpts...)
	s.srv = grpc.NewServer(s.serverOpts...)
	s.healthCheck = health.NewServer()

	reflection.Register(s.srv)

	return s
}

// GetGRPCServer returns the underlying gRPC server.
func (s *Server) GetGRPCServer() *grpc.Server {
	return s.srv
}

// GetHealthCheck returns the health server instance.
func (s *Server) GetHealthCheck() *health.Server {
	return s.healthCheck
}

// RegisterHealthServer registers the health server if not already registered.
func (s *Server) RegisterHealthServer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.healthRegistered {
		return errHealthServerRegistered
	}

	healthpb.RegisterHealthServer(s.srv, s.healthCheck)
	s.healthRegistered = true

	return nil
}

// WithServerOptions adds gRPC server options.
func WithServerOptions(opt ...grpc.ServerOption) ServerOption {
	return func(s *Server) {
		s.serverOpts = append(s.serverOpts, opt...)
	}
}

// TelemetryFilter allows callers to suppress traces for matching RPCs.
type TelemetryFilter func(*grpcstats.RPCTagInfo) bool

// WithTelemetryFilter configures a filter to determine which RPCs emit telemetry.
func WithTelemetryFilter(filter TelemetryFilter) ServerOption {
	return func(s *Server) {
		s.telemetryFilter = filter
	}
}

// WithTelemetryDisabled disables OpenTelemetry stats handling for the server.
func WithTelemetryDisabled() ServerOption {
	return func(s *Server) {
		s.telemetryDisabled = true
	}
}

// WithMaxRecvSize sets the maximum receive message size.
func WithMaxRecvSize(size int) ServerOption {
	return func(s *Server) {
		s.serverOpts = append(s.serverOpts, grpc.MaxRecvMsgSize(size))
	}
}

// RegisterService registers a service with the gRPC server and marks it
// as serving.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[desc.ServiceName] = struct{}{}
	s.srv.RegisterService(desc, impl)

	if s.healthCheck != nil {
		s.healthCheck.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lc := &net.ListenConfig{}

	lis, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.RLock()
	registered := s.healthRegistered
	s.mu.RUnlock()

	if !registered {
		if err := s.RegisterHealthServer(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to register health server")
		}
	}

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

// Stop gracefully stops the gRPC server, forcing it after a timeout or
// when ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.healthCheck != nil {
		for service := range s.services {
			s.healthCheck.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}

	stopped := make(chan struct{})

	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn().Msg("gRPC server shutdown cancelled, forcing stop")
		s.srv.Stop()
	case <-time.After(shutdownTimer):
		s.logger.Warn().Msg("gRPC server shutdown timed out, forcing stop")
		s.srv.Stop()
	}
}

// requestLogger adds the active span's ids to log when there is one.
func requestLogger(ctx context.Context, log logger.Logger) logger.Logger {
	zlogger, ok := log.(interface {
		WithFields(map[string]interface{}) zerolog.Logger
	})
	if !ok {
		return log
	}

	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return log
	}

	return logger.Wrap(zlogger.WithFields(map[string]interface{}{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	}))
}

// LoggingInterceptor logs RPC calls and injects a trace-aware logger into the context.
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		reqLog := requestLogger(ctx, log)

		resp, err := handler(context.WithValue(ctx, loggerKey{}, reqLog), req)

		reqLog.Debug().
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("gRPC call")

		return resp, err
	}
}

// loggedStream overrides the stream context with one carrying the logger.
type loggedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *loggedStream) Context() context.Context {
	return s.ctx
}

// StreamLoggingInterceptor is LoggingInterceptor for streaming RPCs.
func StreamLoggingInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		reqLog := requestLogger(ss.Context(), log)

		err := handler(srv, &loggedStream{ServerStream: ss, ctx: context.WithValue(ss.Context(), loggerKey{}, reqLog)})

		reqLog.Debug().
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("gRPC stream closed")

		return err
	}
}

// RecoveryInterceptor handles panics in RPC handlers.
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("method", info.FullMethod).Interface("panic", r).Msg("Recovered from panic")

				err = errInternalError
			}
		}()

		return handler(ctx, req)
	}
}

// StreamRecoveryInterceptor handles panics in streaming handlers.
func StreamRecoveryInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("method", info.FullMethod).Interface("panic", r).Msg("Recovered from panic")

				err = errInternalError
			}
		}()

		return handler(srv, ss)
	}
}

// FromContext retrieves the logger from the context.
// If no logger is found, it returns a no-op test logger to prevent nil panics.
func FromContext(ctx context.Context) logger.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logger.Logger); ok {
		return l
	}

	return logger.NewTestLogger()
}
