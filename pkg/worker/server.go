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
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/middleware"
	"github.com/carverauto/envradar/pkg/models"
)

var errHandlerPanic = errors.New("handler panicked")

// Server answers requests arriving on connections by calling an API.
// A single Server may serve several connections at once.
type Server struct {
	api middleware.API
	log logger.Logger
}

// NewServer serves api.
func NewServer(api middleware.API, log logger.Logger) *Server {
	return &Server{api: api, log: logger.Component(log, "worker-server")}
}

// session is the per-connection state of a Server.
type session struct {
	srv  *Server
	conn Conn
	ctx  context.Context

	mu      sync.Mutex
	updates map[models.IteratorID]events.Disposable
}

// Serve handles requests from conn until it is closed or ctx is done.
// Requests are handled concurrently; each reply carries its request's id.
func (s *Server) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		srv:     s,
		conn:    conn,
		ctx:     ctx,
		updates: make(map[models.IteratorID]events.Disposable),
	}

	changes := s.api.OnChanged().Subscribe(func(e models.ChangeEvent) {
		sess.notify(NotifyChanged, 0, e)
	})

	var wg sync.WaitGroup

	defer func() {
		changes.Dispose()
		cancel()
		wg.Wait()
		sess.releaseAll()
	}()

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("receive: %w", err)
		}

		if msg.Type != TypeRequest {
			s.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring non-request message")

			continue
		}

		// Root changes are applied in arrival order so that later requests
		// observe them.
		if msg.Method == MethodWorkspaceFolders {
			sess.handle(msg)

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			sess.handle(msg)
		}()
	}
}

func (s *session) handle(msg Message) {
	result, respond, err := s.dispatch(msg)
	if !respond {
		return
	}

	if err != nil {
		s.srv.log.Debug().Err(err).Str("method", msg.Method).Uint64("id", msg.ID).Msg("Request failed")
	}

	if sendErr := s.conn.Send(s.ctx, responseTo(msg, result, err)); sendErr != nil && s.ctx.Err() == nil {
		s.srv.log.Warn().Err(sendErr).Str("method", msg.Method).Msg("Failed to send response")
	}
}

// dispatch runs one request. respond is false for fire-and-forget requests.
func (s *session) dispatch(msg Message) (result interface{}, respond bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.srv.log.Error().Str("method", msg.Method).Interface("panic", r).Msg("Recovered from panic")

			result, respond, err = nil, true, fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()

	req, err := DecodeRequest(msg)
	if err != nil {
		return nil, true, err
	}

	api := s.srv.api

	switch r := req.(type) {
	case ResolveEnvRequest:
		env, err := api.ResolveEnv(s.ctx, r.Path)

		return env, true, err
	case IterInitializeRequest:
		id, err := api.IterInitialize(s.ctx, r.Query)
		if err == nil && id != 0 {
			s.forwardUpdates(id)
		}

		return id, true, err
	case IterNextRequest:
		env, err := api.IterNext(s.ctx, r.Handle)
		if err == nil && env == nil {
			s.release(r.Handle)
		}

		return env, true, err
	case WorkspaceFoldersRequest:
		api.OnDidChangeWorkspaceFolders(r.Event)

		return nil, false, nil
	case DisposeRequest:
		api.Dispose()

		return nil, true, nil
	default:
		return nil, true, ErrInvalidMethod
	}
}

// forwardUpdates relays a session's update events as notifications. They
// are sent while the IterNext that produced them is still being handled,
// so they reach the client before its response.
func (s *session) forwardUpdates(id models.IteratorID) {
	updates := s.srv.api.IterOnUpdated(id)
	if updates == nil {
		return
	}

	sub := updates.Subscribe(func(e models.UpdateEvent[models.ResolvedEnv]) {
		s.notify(NotifyIterOnUpdated, id, e)
	})

	s.mu.Lock()
	s.updates[id] = sub
	s.mu.Unlock()
}

func (s *session) release(id models.IteratorID) {
	s.mu.Lock()
	sub, ok := s.updates[id]
	delete(s.updates, id)
	s.mu.Unlock()

	if ok {
		sub.Dispose()
	}
}

func (s *session) releaseAll() {
	s.mu.Lock()
	subs := s.updates
	s.updates = make(map[models.IteratorID]events.Disposable)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Dispose()
	}
}

func (s *session) notify(method string, handle models.IteratorID, payload interface{}) {
	msg, err := notification(method, handle, payload)
	if err != nil {
		s.srv.log.Warn().Err(err).Str("method", method).Msg("Failed to encode notification")

		return
	}

	if err := s.conn.Send(s.ctx, msg); err != nil && s.ctx.Err() == nil {
		s.srv.log.Debug().Err(err).Str("method", method).Msg("Failed to send notification")
	}
}
