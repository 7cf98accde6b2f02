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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/environments"
	"github.com/carverauto/envradar/pkg/lifecycle"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/version"
)

// app holds what every subcommand shares.
type app struct {
	configPath string
	workerMode string
	workerAddr string

	cfg *config.AppConfig
	log logger.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "envradar",
		Short: "Discover Python environments on this machine and in project roots",
		Long: `envradar finds Python interpreters, virtual environments and
version-manager installs, resolves them and keeps a persistent collection
that later runs answer from immediately.

Discovery can run in this process, behind an in-process worker boundary,
in a child process over stdio, or in a shared worker reached over gRPC
or NATS.`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = lifecycle.ShutdownLogger()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (JSON, YAML or TOML)")
	flags.StringVar(&a.workerMode, "worker-mode", "", "where discovery runs: inprocess, pipe, stdio, grpc or nats")
	flags.StringVar(&a.workerAddr, "worker-addr", "", "gRPC target or NATS URL of a shared worker")

	cmd.AddCommand(
		newListCommand(a),
		newResolveCommand(a),
		newRefreshCommand(a),
		newWatchCommand(a),
		newWorkerCommand(a),
	)

	return cmd
}

// setup loads the configuration and builds the logger.
func (a *app) setup(ctx context.Context) error {
	bootstrap, err := lifecycle.CreateComponentLogger(ctx, "bootstrap", logger.DefaultConfig())
	if err != nil {
		return err
	}

	cfg := config.DefaultAppConfig()
	loader := config.NewConfig(bootstrap)

	store, err := loader.OpenConfigStore(ctx)
	if err != nil {
		return err
	}

	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if err := loader.LoadAndValidate(ctx, a.configPath, cfg); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if a.workerMode != "" {
		cfg.Worker.Mode = config.WorkerMode(a.workerMode)
	}

	if a.workerAddr != "" {
		cfg.Worker.Address = a.workerAddr
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if a.log, err = lifecycle.CreateLogger(ctx, cfg.Logging); err != nil {
		return err
	}

	lifecycle.StartTelemetry(ctx, cfg.Logging, a.log)

	a.cfg = cfg

	return nil
}

// open initializes discovery with the configured roots plus extra.
func (a *app) open(ctx context.Context, extra []string) (*environments.Environments, error) {
	roots := append(append([]string(nil), a.cfg.Roots...), extra...)

	return environments.Initialize(ctx, a.cfg,
		environments.WithLogger(a.log),
		environments.WithRoots(environments.NewStaticRoots(roots...)),
		environments.WithConfigPath(a.configPath),
	)
}

// queryFlags are shared by list and refresh.
type queryFlags struct {
	roots    []string
	noGlobal bool
	kinds    []string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&q.roots, "root", nil, "project root to search (repeatable)")
	cmd.Flags().BoolVar(&q.noGlobal, "no-global", false, "only environments found under the given roots")
	cmd.Flags().StringSliceVar(&q.kinds, "kind", nil, "only environments of these kinds")
}

func (q *queryFlags) absRoots() []string {
	out := make([]string, 0, len(q.roots))

	for _, root := range q.roots {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}

		out = append(out, root)
	}

	return out
}

// query returns nil when no flag narrows the search.
func (q *queryFlags) query() *models.Query {
	if len(q.roots) == 0 && !q.noGlobal && len(q.kinds) == 0 {
		return nil
	}

	query := &models.Query{}

	for _, kind := range q.kinds {
		query.Kinds = append(query.Kinds, models.EnvKind(kind))
	}

	if len(q.roots) > 0 || q.noGlobal {
		query.SearchLocations = &models.SearchLocations{
			Roots:                 q.absRoots(),
			DoNotIncludeNonRooted: q.noGlobal,
		}
	}

	return query
}
