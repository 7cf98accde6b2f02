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

package locator_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/locator/locatortest"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

func executables(envs []models.BasicEnv) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Executable)
	}

	sort.Strings(out)

	return out
}

func TestLocatorsMergesChildren(t *testing.T) {
	a := locatortest.New("a",
		locatortest.Env("/a/bin/python", models.KindSystem, models.SourcePathEnvVar),
		locatortest.Env("/a/bin/python3", models.KindSystem, models.SourcePathEnvVar),
	)
	b := locatortest.New("b", locatortest.Env("/b/bin/python", models.KindConda, models.SourceConda))

	l := locator.NewLocators("test", logger.NewTestLogger(), a, b)
	defer l.Dispose()

	envs, err := locator.Collect(context.Background(), l.IterEnvs(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/bin/python", "/a/bin/python3", "/b/bin/python"}, executables(envs))
}

func TestLocatorsIsolatesFailingSources(t *testing.T) {
	failing := locatortest.New("failing", locatortest.Env("/f/bin/python", models.KindVenv, models.SourceWorkspace))
	failing.Fail = errors.New("disk on fire")

	panicking := locatortest.New("panicking", locatortest.Env("/p/bin/python", models.KindVenv, models.SourceWorkspace))
	panicking.Panic = "unexpected"

	ctrl := gomock.NewController(t)
	broken := locator.NewMockLocator(ctrl)
	broken.EXPECT().Name().Return("broken").AnyTimes()
	broken.EXPECT().OnChanged().Return(events.NewEmitter[models.ChangeEvent]()).AnyTimes()
	broken.EXPECT().IterEnvs(gomock.Any()).DoAndReturn(func(*models.Query) *locator.Iterator[models.BasicEnv] {
		panic("cannot start")
	})
	broken.EXPECT().Dispose()

	healthy := locatortest.New("healthy", locatortest.Env("/h/bin/python", models.KindSystem, models.SourcePathEnvVar))

	l := locator.NewLocators("test", logger.NewTestLogger(), failing, broken, panicking, healthy)
	defer l.Dispose()

	envs, err := locator.Collect(context.Background(), l.IterEnvs(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"/f/bin/python", "/h/bin/python", "/p/bin/python"}, executables(envs))
}

func TestLocatorsRemapsUpdateIndices(t *testing.T) {
	a := locatortest.New("a",
		locatortest.Env("/a/1", models.KindSystem, models.SourcePathEnvVar),
		locatortest.Env("/a/2", models.KindSystem, models.SourcePathEnvVar),
	)

	updated := locatortest.Env("/b/1", models.KindVenv, models.SourceWorkspace)
	b := locatortest.New("b", locatortest.Env("/b/1", models.KindUnknown, models.SourceWorkspace))
	b.Updates = []models.UpdateEvent[models.BasicEnv]{{Index: 0, Update: &updated}}

	l := locator.NewLocators("test", logger.NewTestLogger(), a, b)
	defer l.Dispose()

	it := l.IterEnvs(nil)
	defer it.Close()

	var (
		items   []models.BasicEnv
		updates []models.UpdateEvent[models.BasicEnv]
	)

	it.OnUpdated().Subscribe(func(ev models.UpdateEvent[models.BasicEnv]) {
		if !ev.IsProgress() {
			updates = append(updates, ev)
		}
	})

	for {
		env, ok := it.Next(context.Background())
		if !ok {
			break
		}

		items = append(items, env)
	}

	require.Len(t, items, 3)
	require.Len(t, updates, 1)

	idx := updates[0].Index
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, len(items))
	assert.Equal(t, "/b/1", items[idx].Executable)
	assert.Equal(t, models.KindVenv, updates[0].Update.Kind)
}

func TestLocatorsForwardChangesAndDispose(t *testing.T) {
	a := locatortest.New("a")
	b := locatortest.New("b")

	l := locator.NewLocators("test", logger.NewTestLogger(), a, b)

	var got []models.ChangeEvent

	l.OnChanged().Subscribe(func(e models.ChangeEvent) { got = append(got, e) })

	b.FireChanged(models.ChangeEvent{Type: models.ChangeCreated, Path: "/b/bin/python"})

	require.Len(t, got, 1)
	assert.Equal(t, "/b/bin/python", got[0].Path)

	l.Dispose()

	assert.True(t, a.Disposed())
	assert.True(t, b.Disposed())
}
