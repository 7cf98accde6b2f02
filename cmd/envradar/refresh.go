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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carverauto/envradar/pkg/collection"
	"github.com/carverauto/envradar/pkg/lifecycle"
	"github.com/carverauto/envradar/pkg/models"
)

func newRefreshCommand(a *app) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run a discovery pass and update the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := lifecycle.SignalContext(cmd.Context())
			defer cancel()

			envs, err := a.open(ctx, q.absRoots())
			if err != nil {
				return err
			}

			defer envs.Dispose()

			s := styles()
			out := cmd.ErrOrStderr()

			progress := envs.Service.OnProgress().Subscribe(func(stage models.ProgressStage) {
				fmt.Fprintln(out, s.dim.Render(string(stage)))
			})
			defer progress.Dispose()

			start := time.Now()
			query := q.query()

			if err := envs.Service.TriggerRefresh(ctx, query, collection.RefreshOptions{}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d environments in %s\n",
				len(envs.Service.GetEnvs(query)), time.Since(start).Round(time.Millisecond))

			return nil
		},
	}

	q.register(cmd)

	return cmd
}
