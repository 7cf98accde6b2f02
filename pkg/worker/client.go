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

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/middleware"
	"github.com/carverauto/envradar/pkg/models"
)

const disposeTimeout = 5 * time.Second

// Client implements middleware.API by sending requests over a Conn.
type Client struct {
	conn Conn
	log  logger.Logger

	lastID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan Message
	updates  map[models.IteratorID]*events.Emitter[models.UpdateEvent[models.ResolvedEnv]]
	closed   bool
	closeErr error
	// released is set by Close; later calls are no-ops, as on a disposed middleware.
	released bool

	changed *events.Emitter[models.ChangeEvent]
	done    chan struct{}
	cancel  context.CancelFunc
}

var _ middleware.API = (*Client)(nil)

// NewClient starts reading from conn. The client owns conn.
func NewClient(conn Conn, log logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		conn:    conn,
		log:     logger.Component(log, "worker-client"),
		pending: make(map[uint64]chan Message),
		updates: make(map[models.IteratorID]*events.Emitter[models.UpdateEvent[models.ResolvedEnv]]),
		changed: events.NewEmitter[models.ChangeEvent](),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go c.readLoop(ctx)

	return c
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)

	for {
		msg, err := c.conn.Receive(ctx)
		if err != nil {
			c.fail(err)

			return
		}

		switch msg.Type {
		case TypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()

			if ok {
				ch <- msg
			} else {
				c.log.Debug().Uint64("id", msg.ID).Msg("Dropping response with no caller")
			}
		case TypeNotification:
			c.dispatchNotification(msg)
		case TypeRequest:
			c.log.Debug().Str("method", msg.Method).Msg("Ignoring request from worker")
		}
	}
}

// dispatchNotification fires listeners on the read goroutine, so events
// keep their order relative to responses.
func (c *Client) dispatchNotification(msg Message) {
	switch msg.Method {
	case NotifyChanged:
		var e models.ChangeEvent
		if err := json.Unmarshal(msg.Result, &e); err != nil {
			c.log.Warn().Err(err).Msg("Malformed change notification")

			return
		}

		c.changed.Fire(e)
	case NotifyIterOnUpdated:
		var e models.UpdateEvent[models.ResolvedEnv]
		if err := json.Unmarshal(msg.Result, &e); err != nil {
			c.log.Warn().Err(err).Msg("Malformed update notification")

			return
		}

		c.mu.Lock()
		emitter := c.updates[msg.Handle]
		c.mu.Unlock()

		if emitter != nil {
			emitter.Fire(e)
		}
	default:
		c.log.Debug().Str("method", msg.Method).Msg("Unknown notification")
	}
}

// fail releases every waiting caller once the connection is gone.
func (c *Client) fail(err error) {
	if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Msg("Worker connection lost")
	}

	c.mu.Lock()
	c.closed = true
	c.closeErr = fmt.Errorf("%w: %w", ErrClosed, err)
	pending := c.pending
	c.pending = make(map[uint64]chan Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// errReleased reports a call made after Close; public methods turn it into
// an empty result.
var errReleased = errors.New("worker client released")

// closedErrLocked returns the error for a call on a closed connection.
func (c *Client) closedErrLocked() error {
	if c.released {
		return errReleased
	}

	return c.closeErr
}

// call sends req and waits for its response, decoding the result into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, req Request, out interface{}) error {
	id := c.lastID.Add(1)

	msg, err := EncodeRequest(id, req)
	if err != nil {
		return err
	}

	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()

		return errReleased
	}

	if c.closed {
		err := c.closeErr
		c.mu.Unlock()

		return err
	}

	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.conn.Send(ctx, msg); err != nil {
		forget()

		c.mu.Lock()
		released := c.released
		c.mu.Unlock()

		if released {
			return errReleased
		}

		return fmt.Errorf("send %s: %w", req.Method(), err)
	}

	var resp Message

	select {
	case r, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.closedErrLocked()
			c.mu.Unlock()

			return err
		}

		resp = r
	case <-ctx.Done():
		forget()

		return ctx.Err()
	}

	if resp.Error != "" {
		return &RemoteError{Method: req.Method(), Message: resp.Error}
	}

	if out == nil || len(resp.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", req.Method(), err)
	}

	return nil
}

// send delivers a fire-and-forget request.
func (c *Client) send(ctx context.Context, req Request) error {
	msg, err := EncodeRequest(c.lastID.Add(1), req)
	if err != nil {
		return err
	}

	return c.conn.Send(ctx, msg)
}

// ResolveEnv implements middleware.API.
func (c *Client) ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error) {
	var env *models.ResolvedEnv
	if err := c.call(ctx, ResolveEnvRequest{Path: path}, &env); err != nil {
		return nil, ignoreReleased(err)
	}

	return env, nil
}

// IterInitialize implements middleware.API. The update stream of the new
// session is available from IterOnUpdated as soon as this returns.
func (c *Client) IterInitialize(ctx context.Context, query *models.Query) (models.IteratorID, error) {
	var id models.IteratorID
	if err := c.call(ctx, IterInitializeRequest{Query: query}, &id); err != nil {
		return 0, ignoreReleased(err)
	}

	if id != 0 {
		c.mu.Lock()
		if c.released {
			c.mu.Unlock()

			return 0, nil
		}

		c.updates[id] = events.NewEmitter[models.UpdateEvent[models.ResolvedEnv]]()
		c.mu.Unlock()
	}

	return id, nil
}

// IterNext implements middleware.API.
func (c *Client) IterNext(ctx context.Context, id models.IteratorID) (*models.ResolvedEnv, error) {
	var env *models.ResolvedEnv
	if err := c.call(ctx, IterNextRequest{Handle: id}, &env); err != nil {
		return nil, ignoreReleased(err)
	}

	if env == nil {
		c.mu.Lock()
		emitter := c.updates[id]
		delete(c.updates, id)
		c.mu.Unlock()

		if emitter != nil {
			emitter.Dispose()
		}
	}

	return env, nil
}

// IterOnUpdated implements middleware.API.
func (c *Client) IterOnUpdated(id models.IteratorID) events.Event[models.UpdateEvent[models.ResolvedEnv]] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if emitter, ok := c.updates[id]; ok {
		return emitter
	}

	return nil
}

// OnChanged implements middleware.API.
func (c *Client) OnChanged() events.Event[models.ChangeEvent] {
	return c.changed
}

// OnDidChangeWorkspaceFolders implements middleware.API. The request is not
// acknowledged.
func (c *Client) OnDidChangeWorkspaceFolders(event models.RootsChangeEvent) {
	c.mu.Lock()
	released := c.released
	c.mu.Unlock()

	if released {
		return
	}

	if err := c.send(context.Background(), WorkspaceFoldersRequest{Event: event}); err != nil {
		c.log.Warn().Err(err).Msg("Failed to forward workspace folders")
	}
}

// Dispose asks the worker to dispose its API, then closes the connection.
func (c *Client) Dispose() {
	c.mu.Lock()
	closed := c.closed || c.released
	c.mu.Unlock()

	if !closed {
		ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
		if err := c.call(ctx, DisposeRequest{}, nil); err != nil {
			c.log.Debug().Err(err).Msg("Worker dispose failed")
		}

		cancel()
	}

	_ = c.Close()
}

// Close closes the connection without disposing the worker. Afterwards the
// client answers like a disposed middleware: 0 or nil, and no error.
func (c *Client) Close() error {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()

	err := c.conn.Close()
	c.cancel()
	<-c.done

	c.mu.Lock()
	updates := c.updates
	c.updates = make(map[models.IteratorID]*events.Emitter[models.UpdateEvent[models.ResolvedEnv]])
	c.mu.Unlock()

	for _, emitter := range updates {
		emitter.Dispose()
	}

	c.changed.Dispose()

	return err
}

func ignoreReleased(err error) error {
	if errors.Is(err, errReleased) {
		return nil
	}

	return err
}
