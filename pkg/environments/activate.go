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

package environments

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/collection"
	"github.com/carverauto/envradar/pkg/kv"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// triggeredKeyPrefix marks roots whose first discovery was started.
const triggeredKeyPrefix = "ENVRADAR_DISCOVERY_TRIGGERED_"

// TriggeredKey is the store key recording that root was refreshed once.
func TriggeredKey(root string) string {
	return triggeredKeyPrefix + pathutil.NormCase(root)
}

// Activation tracks the refreshes started by Activate.
type Activation struct {
	pending []<-chan error
}

// Refreshes reports how many refreshes were started.
func (a *Activation) Refreshes() int {
	return len(a.pending)
}

// Wait blocks until every started refresh finished and joins their errors.
func (a *Activation) Wait(ctx context.Context) error {
	var errs []error

	for _, ch := range a.pending {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Join(errs...)
}

// Activate starts the first refreshes in the background. With no persisted
// snapshot a full refresh runs and every root is marked as triggered;
// otherwise only roots never refreshed before get a rooted refresh.
func Activate(ctx context.Context, svc *collection.Service, store kv.KVStore, roots []string, log logger.Logger) *Activation {
	log = logger.Component(log, "activation")
	a := &Activation{}

	snapshot := kv.NewPersistentState[[]json.RawMessage](store, collection.SnapshotKey, nil, log)

	if len(snapshot.Get(ctx)) == 0 {
		log.Debug().Msg("No persisted environments, starting full discovery")

		a.pending = append(a.pending, svc.StartRefresh(nil, collection.RefreshOptions{}))

		for _, root := range roots {
			markTriggered(ctx, store, root, log)
		}

		return a
	}

	for _, root := range roots {
		flag := kv.NewPersistentState(store, TriggeredKey(root), false, log)
		if flag.Get(ctx) {
			continue
		}

		log.Debug().Str("root", root).Msg("Starting discovery for new root")

		a.pending = append(a.pending, svc.StartRefresh(models.RootedQuery(root), collection.RefreshOptions{}))

		markTriggered(ctx, store, root, log)
	}

	return a
}

func markTriggered(ctx context.Context, store kv.KVStore, root string, log logger.Logger) {
	if err := kv.NewPersistentState(store, TriggeredKey(root), false, log).Set(ctx, true); err != nil {
		log.Warn().Err(err).Str("root", root).Msg("Failed to record discovery trigger")
	}
}
