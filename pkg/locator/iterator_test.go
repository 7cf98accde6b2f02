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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/models"
)

type recorded struct {
	item   string
	update *models.UpdateEvent[string]
}

func TestIteratorYieldsInOrder(t *testing.T) {
	items, err := locator.Collect(context.Background(), locator.FromSlice("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)
}

func TestIteratorUpdatesFollowTheirItem(t *testing.T) {
	it := locator.NewIterator(func(_ context.Context, sink *locator.Sink[string]) error {
		sink.Yield("a")

		updated := "a2"
		sink.Update(models.UpdateEvent[string]{Index: 0, Update: &updated})
		sink.Yield("b")

		return nil
	})
	defer it.Close()

	var (
		mu  sync.Mutex
		log []recorded
	)

	it.OnUpdated().Subscribe(func(ev models.UpdateEvent[string]) {
		mu.Lock()
		defer mu.Unlock()

		log = append(log, recorded{update: &ev})
	})

	for {
		item, ok := it.Next(context.Background())
		if !ok {
			break
		}

		mu.Lock()
		log = append(log, recorded{item: item})
		mu.Unlock()
	}

	require.Len(t, log, 4)
	assert.Equal(t, "a", log[0].item)
	require.NotNil(t, log[1].update)
	assert.Equal(t, 0, log[1].update.Index)
	assert.Equal(t, "a2", *log[1].update.Update)
	assert.Equal(t, "b", log[2].item)
	require.NotNil(t, log[3].update)
	assert.Equal(t, models.StageDiscoveryFinished, log[3].update.Stage)
}

func TestIteratorIsLazy(t *testing.T) {
	started := make(chan struct{}, 1)

	it := locator.NewIterator(func(_ context.Context, sink *locator.Sink[int]) error {
		started <- struct{}{}
		sink.Yield(1)

		return nil
	})

	select {
	case <-started:
		t.Fatal("producer started before Next")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := it.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)

	it.Close()
}

func TestIteratorCloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})

	it := locator.NewIterator(func(ctx context.Context, sink *locator.Sink[int]) error {
		defer close(stopped)

		for i := 0; ; i++ {
			if !sink.Yield(i) {
				return ctx.Err()
			}
		}
	})

	_, ok := it.Next(context.Background())
	require.True(t, ok)

	it.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer kept running after Close")
	}

	_, ok = it.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, it.Err())
}

func TestIteratorReportsProducerFailure(t *testing.T) {
	boom := errors.New("boom")

	it := locator.NewIterator(func(_ context.Context, sink *locator.Sink[int]) error {
		sink.Yield(1)

		return boom
	})

	items, err := locator.Collect(context.Background(), it)
	assert.Equal(t, []int{1}, items)
	assert.ErrorIs(t, err, boom)
}

func TestIteratorRecoversPanics(t *testing.T) {
	it := locator.NewIterator(func(_ context.Context, sink *locator.Sink[int]) error {
		sink.Yield(1)
		panic("kaput")
	})

	items, err := locator.Collect(context.Background(), it)
	assert.Equal(t, []int{1}, items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestIteratorWaitsForBackgroundWork(t *testing.T) {
	release := make(chan struct{})

	it := locator.NewIterator(func(_ context.Context, sink *locator.Sink[string]) error {
		sink.Yield("first")

		sink.Go(func(_ context.Context) {
			<-release
			sink.Yield("late")
		})

		return nil
	})
	defer it.Close()

	v, ok := it.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "first", v)

	close(release)

	v, ok = it.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "late", v)

	_, ok = it.Next(context.Background())
	assert.False(t, ok)
}

func TestIteratorNextHonoursContext(t *testing.T) {
	it := locator.NewIterator(func(ctx context.Context, _ *locator.Sink[int]) error {
		<-ctx.Done()

		return nil
	})
	defer it.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := it.Next(ctx)
	assert.False(t, ok)
}
