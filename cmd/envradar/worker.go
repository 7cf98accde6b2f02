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

package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/environments"
	grpcserver "github.com/carverauto/envradar/pkg/grpc"
	"github.com/carverauto/envradar/pkg/lifecycle"
	"github.com/carverauto/envradar/pkg/natsutil"
	"github.com/carverauto/envradar/pkg/version"
	"github.com/carverauto/envradar/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

func newWorkerCommand(a *app) *cobra.Command {
	var (
		stdio    bool
		grpcAddr string
		natsURL  string
		subject  string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Host the discovery middleware for remote clients",
		Long: `Run discovery in this process and serve it to clients.

With --stdio the worker talks to the process that spawned it over stdin
and stdout and exits when its input closes. With --grpc or --nats it
serves any number of clients until interrupted.`,
		Example: `  envradar worker --grpc :50061
  envradar worker --nats nats://127.0.0.1:4222 --subject envradar.worker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := lifecycle.SignalContext(cmd.Context())
			defer cancel()

			m, err := environments.NewMiddleware(a.cfg, environments.WithLogger(a.log))
			if err != nil {
				return err
			}

			defer m.Dispose()

			srv := worker.NewServer(m, a.log)

			a.log.Info().Str("version", version.GetFullVersion()).Msg("Starting discovery worker")

			switch {
			case stdio:
				conn := worker.NewStreamConn(os.Stdin, os.Stdout, nil)
				defer func() { _ = conn.Close() }()

				return srv.Serve(ctx, conn)
			case grpcAddr != "":
				return serveGRPC(ctx, a, grpcAddr, srv)
			default:
				nc, err := natsutil.Connect(natsURL, "envradar-worker", a.cfg.Worker.TLS)
				if err != nil {
					return err
				}

				defer nc.Close()

				return worker.ServeNATS(ctx, nc, subject, srv, a.log)
			}
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&stdio, "stdio", false, "serve the spawning process over stdin and stdout")
	flags.StringVar(&grpcAddr, "grpc", "", "serve gRPC clients on this address")
	flags.StringVar(&natsURL, "nats", "", "serve clients through the NATS server at this URL")
	flags.StringVar(&subject, "subject", config.DefaultWorkerSubject, "NATS subject prefix")

	cmd.MarkFlagsMutuallyExclusive("stdio", "grpc", "nats")
	cmd.MarkFlagsOneRequired("stdio", "grpc", "nats")

	return cmd
}

func serveGRPC(ctx context.Context, a *app, addr string, srv *worker.Server) error {
	s := grpcserver.NewServer(addr, a.log)
	worker.RegisterGRPC(s, srv)

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.Stop(stopCtx)

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
