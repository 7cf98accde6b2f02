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

package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/carverauto/envradar/pkg/logger"
)

func startBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)

	go func() {
		_ = s.Serve(lis)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		s.Stop(ctx)
	})

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = cc.Close() })

	return cc
}

func panickyService() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: "envradar.test.Panicky",
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Boom",
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(interface{}, grpc.ServerStream) error {
				panic("boom")
			},
		}},
	}
}

func TestServerReportsRegisteredServices(t *testing.T) {
	s := NewServer("bufnet", logger.NewTestLogger(), WithTelemetryDisabled())
	s.RegisterService(panickyService(), struct{}{})

	require.NoError(t, s.RegisterHealthServer())
	require.ErrorIs(t, s.RegisterHealthServer(), errHealthServerRegistered)

	cc := startBufconn(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: "envradar.test.Panicky"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestStreamPanicsBecomeInternalErrors(t *testing.T) {
	s := NewServer("bufnet", logger.NewTestLogger())
	s.RegisterService(panickyService(), struct{}{})

	cc := startBufconn(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, "/envradar.test.Panicky/Boom")
	require.NoError(t, err)

	err = stream.RecvMsg(new(healthpb.HealthCheckResponse))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestFromContextFallsBack(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := logger.NewTestLogger()
	ctx := context.WithValue(context.Background(), loggerKey{}, log)
	assert.Same(t, log, FromContext(ctx))
}
