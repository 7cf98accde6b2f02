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

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// ServiceName is the gRPC service hosting the worker stream.
const ServiceName = "envradar.worker.v1.Worker"

const (
	connectMethod = "/" + ServiceName + "/Connect"
	jsonCodecName = "json"
)

// jsonCodec carries Message values as JSON, so the worker needs no
// generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// streamHandler is implemented by the registered service.
type streamHandler interface {
	connect(stream grpc.ServerStream) error
}

//nolint:gochecknoglobals // service descriptor
var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*streamHandler)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Connect",
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(streamHandler).connect(stream)
}

type grpcService struct {
	server *Server
}

func (g *grpcService) connect(stream grpc.ServerStream) error {
	return g.server.Serve(stream.Context(), &grpcConn{stream: stream})
}

// RegisterGRPC exposes srv on a gRPC server; every Connect stream is one
// worker session.
func RegisterGRPC(registrar grpc.ServiceRegistrar, srv *Server) {
	registrar.RegisterService(&workerServiceDesc, &grpcService{server: srv})
}

// grpcConn adapts either end of the Connect stream.
type grpcConn struct {
	stream interface {
		SendMsg(m interface{}) error
		RecvMsg(m interface{}) error
	}
	sendMu sync.Mutex
	// closeFn is set on the client end.
	closeFn func() error
	once    sync.Once
}

var _ Conn = (*grpcConn)(nil)

func streamErr(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrClosed
	}

	switch status.Code(err) {
	case codes.Canceled, codes.Unavailable:
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return err
	}
}

func (g *grpcConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	if err := g.stream.SendMsg(&msg); err != nil {
		return streamErr(err)
	}

	return nil
}

func (g *grpcConn) Receive(_ context.Context) (Message, error) {
	var msg Message
	if err := g.stream.RecvMsg(&msg); err != nil {
		return Message{}, streamErr(err)
	}

	return msg, nil
}

func (g *grpcConn) Close() error {
	var err error

	g.once.Do(func() {
		if g.closeFn != nil {
			err = g.closeFn()
		}
	})

	return err
}

// DialGRPC opens a worker session on the server at addr. Connections are
// insecure unless opts carry transport credentials.
func DialGRPC(ctx context.Context, addr string, opts ...grpc.DialOption) (Conn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}, opts...)

	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", addr, err)
	}

	// The stream outlives ctx, which only bounds the dial.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	type result struct {
		stream grpc.ClientStream
		err    error
	}

	opened := make(chan result, 1)

	go func() {
		stream, err := cc.NewStream(streamCtx, &workerServiceDesc.Streams[0], connectMethod, grpc.WaitForReady(true))
		opened <- result{stream: stream, err: err}
	}()

	var stream grpc.ClientStream

	select {
	case r := <-opened:
		if r.err != nil {
			cancel()
			_ = cc.Close()

			return nil, fmt.Errorf("open worker stream: %w", r.err)
		}

		stream = r.stream
	case <-ctx.Done():
		cancel()
		_ = cc.Close()

		return nil, ctx.Err()
	}

	return &grpcConn{
		stream: stream,
		closeFn: func() error {
			_ = stream.CloseSend()

			cancel()

			return cc.Close()
		},
	}, nil
}
