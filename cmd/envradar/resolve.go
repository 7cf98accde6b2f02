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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carverauto/envradar/pkg/lifecycle"
	"github.com/carverauto/envradar/pkg/models"
)

var errNotResolved = errors.New("no Python environment found")

func newResolveCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve PATH",
		Short: "Resolve a single interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := lifecycle.SignalContext(cmd.Context())
			defer cancel()

			envs, err := a.open(ctx, nil)
			if err != nil {
				return err
			}

			defer envs.Dispose()

			env, err := envs.Service.ResolveEnv(ctx, args[0])
			if err != nil {
				return err
			}

			if env == nil {
				return fmt.Errorf("%w at %s", errNotResolved, args[0])
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), env)
			}

			return writeEnvs(cmd.OutOrStdout(), []models.ResolvedEnv{*env}, false)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
