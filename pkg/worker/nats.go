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

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/envradar/pkg/logger"
)

const (
	connectSubject = "connect"
	acceptReply    = "ok"
)

var errSessionRejected = errors.New("worker rejected session")

// Per-session subjects: <base>.<session>.c2s carries client messages and
// <base>.<session>.s2c carries worker messages.
func sessionSubjects(base, session string) (c2s, s2c string) {
	prefix := base + "." + session

	return prefix + ".c2s", prefix + ".s2c"
}

// natsConn sends on one subject and receives on another. An empty payload
// marks the end of the session.
type natsConn struct {
	nc   *nats.Conn
	out  string
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
}

var _ Conn = (*natsConn)(nil)

func newNATSConn(nc *nats.Conn, in, out string) (*natsConn, error) {
	sub, err := nc.SubscribeSync(in)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", in, err)
	}

	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()

		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	return &natsConn{nc: nc, out: out, sub: sub, done: make(chan struct{})}, nil
}

func (n *natsConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-n.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := n.nc.Publish(n.out, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}

		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

func (n *natsConn) Receive(ctx context.Context) (Message, error) {
	m, err := n.sub.NextMsgWithContext(ctx)
	if err != nil {
		select {
		case <-n.done:
			return Message{}, ErrClosed
		default:
		}

		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			return Message{}, ErrClosed
		}

		return Message{}, err
	}

	if len(m.Data) == 0 {
		n.shutdown(false)

		return Message{}, ErrClosed
	}

	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	return msg, nil
}

func (n *natsConn) shutdown(tellPeer bool) {
	n.once.Do(func() {
		close(n.done)

		if tellPeer {
			_ = n.nc.Publish(n.out, nil)
		}

		_ = n.sub.Unsubscribe()
	})
}

// Close ends the session for both ends.
func (n *natsConn) Close() error {
	n.shutdown(true)

	return nil
}

// DialNATS opens a worker session over nc. Sessions are named with a
// random uuid under subject.
func DialNATS(ctx context.Context, nc *nats.Conn, subject string) (Conn, error) {
	session := uuid.NewString()
	c2s, s2c := sessionSubjects(subject, session)

	conn, err := newNATSConn(nc, s2c, c2s)
	if err != nil {
		return nil, err
	}

	reply, err := nc.RequestWithContext(ctx, subject+"."+connectSubject, []byte(session))
	if err != nil {
		conn.shutdown(false)

		return nil, fmt.Errorf("connect to worker on %s: %w", subject, err)
	}

	if string(reply.Data) != acceptReply {
		conn.shutdown(false)

		return nil, fmt.Errorf("%w: %s", errSessionRejected, reply.Data)
	}

	return conn, nil
}

// ServeNATS accepts worker sessions on subject until ctx is done. Each
// session is served by srv on its own goroutine.
func ServeNATS(ctx context.Context, nc *nats.Conn, subject string, srv *Server, log logger.Logger) error {
	log = logger.Component(log, "worker-nats")

	var wg sync.WaitGroup

	sub, err := nc.Subscribe(subject+"."+connectSubject, func(m *nats.Msg) {
		session := string(m.Data)
		if _, err := uuid.Parse(session); err != nil {
			_ = m.Respond([]byte("invalid session id"))

			return
		}

		c2s, s2c := sessionSubjects(subject, session)

		conn, err := newNATSConn(nc, c2s, s2c)
		if err != nil {
			log.Warn().Err(err).Str("session", session).Msg("Failed to open session")
			_ = m.Respond([]byte(err.Error()))

			return
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { _ = conn.Close() }()

			log.Debug().Str("session", session).Msg("Worker session opened")

			if err := srv.Serve(ctx, conn); err != nil {
				log.Warn().Err(err).Str("session", session).Msg("Worker session failed")
			}

			log.Debug().Str("session", session).Msg("Worker session closed")
		}()

		if err := m.Respond([]byte(acceptReply)); err != nil {
			log.Warn().Err(err).Str("session", session).Msg("Failed to accept session")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()

		return fmt.Errorf("flush subscription: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Serving worker sessions")

	<-ctx.Done()

	_ = sub.Unsubscribe()

	wg.Wait()

	return nil
}
