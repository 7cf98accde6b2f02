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

package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/internal/natstest"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/middleware"
	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/worker"
)

const testSubject = "envradar.test.worker"

func natsConnect(t *testing.T, url string) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(url)
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	return nc
}

func startNATSWorker(t *testing.T, url string, api middleware.API) {
	t.Helper()

	nc := natsConnect(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- worker.ServeNATS(ctx, nc, testSubject, worker.NewServer(api, logger.NewTestLogger()), logger.NewTestLogger())
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func dialNATS(t *testing.T, nc *nats.Conn) worker.Conn {
	t.Helper()

	var (
		conn worker.Conn
		err  error
	)

	// ServeNATS subscribes asynchronously; retry until it answers.
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		conn, err = worker.DialNATS(ctx, nc, testSubject)

		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	return conn
}

func TestNATSWorker(t *testing.T) {
	srv := natstest.RunServer(t)
	fake := newFakeResolving(env("/a/python"), env("/b/python"))
	startNATSWorker(t, srv.ClientURL(), middleware.New(fake, nil, logger.NewTestLogger()))

	client := worker.NewClient(dialNATS(t, natsConnect(t, srv.ClientURL())), logger.NewTestLogger())
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()

	got, err := locator.Collect(ctx, middleware.NewLocator(client).IterEnvs(models.RootedQuery("/proj")))
	require.NoError(t, err)
	require.Len(t, got, 2)

	received := make(chan models.ChangeEvent, 1)
	client.OnChanged().Subscribe(func(e models.ChangeEvent) { received <- e })

	fake.changed.Fire(models.ChangeEvent{Type: models.ChangeUpdated, Path: "/a/python"})

	select {
	case e := <-received:
		assert.Equal(t, models.ChangeUpdated, e.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("change notification not delivered over NATS")
	}
}

func TestNATSWorkerRejectsBadSession(t *testing.T) {
	srv := natstest.RunServer(t)
	startNATSWorker(t, srv.ClientURL(), middleware.New(newFakeResolving(), nil, logger.NewTestLogger()))

	nc := natsConnect(t, srv.ClientURL())

	// Wait for the worker to be listening.
	conn := dialNATS(t, nc)
	require.NoError(t, conn.Close())

	reply, err := nc.Request(testSubject+".connect", []byte("not-a-uuid"), 5*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, "ok", string(reply.Data))
}

func TestNATSCloseEndsSession(t *testing.T) {
	srv := natstest.RunServer(t)
	startNATSWorker(t, srv.ClientURL(), middleware.New(newFakeResolving(env("/a/python")), nil, logger.NewTestLogger()))

	client := worker.NewClient(dialNATS(t, natsConnect(t, srv.ClientURL())), logger.NewTestLogger())

	_, err := client.ResolveEnv(context.Background(), "/a/python")
	require.NoError(t, err)

	require.NoError(t, client.Close())

	got, err := client.ResolveEnv(context.Background(), "/a/python")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDialNATSWithoutWorker(t *testing.T) {
	srv := natstest.RunServer(t)
	nc := natsConnect(t, srv.ClientURL())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := worker.DialNATS(ctx, nc, testSubject)
	require.Error(t, err)
}
