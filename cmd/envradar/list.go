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

	"github.com/spf13/cobra"

	"github.com/carverauto/envradar/pkg/lifecycle"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/models"
)

func newListCommand(a *app) *cobra.Command {
	var (
		q      queryFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered environments",
		Long: `List environments from the collection. The first run discovers
everything; later runs answer from the persisted collection and refresh
roots that were never searched before.`,
		Example: `  envradar list
  envradar list --root ./myproject --no-global
  envradar list --kind venv --kind conda --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := lifecycle.SignalContext(cmd.Context())
			defer cancel()

			envs, err := a.open(ctx, q.absRoots())
			if err != nil {
				return err
			}

			defer envs.Dispose()

			envs.Activate(ctx)

			found, err := collectUpdated(ctx, envs.Service.IterEnvs(q.query()))
			if err != nil {
				return err
			}

			return writeEnvs(cmd.OutOrStdout(), found, asJSON)
		},
	}

	q.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

// collectUpdated drains it and applies the updates it reported, dropping
// entries that became invalid.
func collectUpdated(ctx context.Context, it *locator.Iterator[models.ResolvedEnv]) ([]models.ResolvedEnv, error) {
	var (
		items   []models.ResolvedEnv
		removed = make(map[int]bool)
	)

	sub := it.OnUpdated().Subscribe(func(e models.UpdateEvent[models.ResolvedEnv]) {
		if e.Stage != "" || e.Index < 0 || e.Index >= len(items) {
			return
		}

		if e.Update == nil {
			removed[e.Index] = true

			return
		}

		items[e.Index] = *e.Update
	})
	defer sub.Dispose()

	defer it.Close()

	for {
		env, ok := it.Next(ctx)
		if !ok {
			break
		}

		items = append(items, env)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := it.Err(); err != nil {
		return nil, err
	}

	out := items[:0]

	for i, env := range items {
		if !removed[i] {
			out = append(out, env)
		}
	}

	return out, nil
}
