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
	"io"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/middleware"
	"github.com/carverauto/envradar/pkg/worker"
)

// streamPair connects two StreamConns back to back.
func streamPair(t *testing.T) (*worker.StreamConn, *worker.StreamConn) {
	t.Helper()

	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()

	a := worker.NewStreamConn(r1, w2, w2)
	b := worker.NewStreamConn(r2, w1, w1)

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
		_ = r1.Close()
		_ = r2.Close()
	})

	return a, b
}

func TestStreamConnCarriesWorkerProtocol(t *testing.T) {
	a, b := streamPair(t)
	done := serveConn(t, middleware.New(newFakeResolving(env("/a/python")), nil, logger.NewTestLogger()), b)

	client := worker.NewClient(a, logger.NewTestLogger())

	got, err := client.ResolveEnv(context.Background(), "/a/python")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/a/python", got.Executable)

	require.NoError(t, client.Close())

	select {
	case err := <-done:
		require.NoError(t, err, "end of stream is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not notice end of stream")
	}
}

func TestStreamConnSkipsMalformedLines(t *testing.T) {
	r, w := io.Pipe()
	conn := worker.NewStreamConn(r, io.Discard, nil)

	defer func() { _ = conn.Close() }()

	go func() {
		_, _ = w.Write([]byte("this is not json\n\n{\"id\":3,\"type\":\"request\",\"method\":\"dispose\"}\n"))
		_ = w.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Receive(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, worker.ErrClosed)

	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), msg.ID)
	assert.Equal(t, worker.MethodDispose, msg.Method)

	_, err = conn.Receive(ctx)
	require.ErrorIs(t, err, worker.ErrClosed)
}

func TestStreamConnAfterClose(t *testing.T) {
	a, _ := streamPair(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	err := a.Send(context.Background(), worker.Message{Type: worker.TypeRequest})
	require.ErrorIs(t, err, worker.ErrClosed)

	_, err = a.Receive(context.Background())
	require.ErrorIs(t, err, worker.ErrClosed)
}

func TestSpawnEchoProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on cat")
	}

	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := worker.Spawn(ctx, logger.NewTestLogger(), "cat")
	require.NoError(t, err)

	sent, err := worker.EncodeRequest(42, worker.ResolveEnvRequest{Path: "/x/python"})
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, sent))

	got, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Method, got.Method)
	assert.JSONEq(t, string(sent.Args), string(got.Args))

	require.NoError(t, conn.Close())
}
