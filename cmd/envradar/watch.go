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

	"github.com/spf13/cobra"

	"github.com/carverauto/envradar/pkg/lifecycle"
	"github.com/carverauto/envradar/pkg/models"
)

func newWatchCommand(a *app) *cobra.Command {
	var roots []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print collection changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := lifecycle.SignalContext(cmd.Context())
			defer cancel()

			q := queryFlags{roots: roots}

			envs, err := a.open(ctx, q.absRoots())
			if err != nil {
				return err
			}

			defer envs.Dispose()

			out := cmd.OutOrStdout()
			changes := make(chan models.ChangeEvent, 64)

			sub := envs.Service.OnChanged().Subscribe(func(e models.ChangeEvent) {
				select {
				case changes <- e:
				case <-ctx.Done():
				}
			})
			defer sub.Dispose()

			envs.Activate(ctx)

			for {
				select {
				case e := <-changes:
					fmt.Fprintln(out, formatChange(e))
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().StringArrayVar(&roots, "root", nil, "project root to watch (repeatable)")

	return cmd
}
