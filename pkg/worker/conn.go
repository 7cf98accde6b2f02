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
	"fmt"
	"sync"
)

// Conn is a bidirectional message transport. Send is safe for concurrent
// use; Receive is called from a single goroutine. Messages sent on one end
// arrive in order at the other.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	// Receive blocks for the next message. It returns ErrClosed once either
	// end has closed the connection.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// pipeState is shared by the two ends of a Pipe.
type pipeState struct {
	done chan struct{}
	once sync.Once
}

func (p *pipeState) close() {
	p.once.Do(func() { close(p.done) })
}

type pipeEnd struct {
	state *pipeState
	in    <-chan []byte
	out   chan<- []byte
}

// Pipe returns the two ends of an in-process connection. Messages are
// JSON encoded on the way through, so only serializable data crosses.
func Pipe() (Conn, Conn) {
	state := &pipeState{done: make(chan struct{})}
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)

	return &pipeEnd{state: state, in: ba, out: ab}, &pipeEnd{state: state, in: ab, out: ba}
}

func (p *pipeEnd) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- data:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Message, error) {
	var data []byte

	select {
	case data = <-p.in:
	case <-p.state.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	return msg, nil
}

func (p *pipeEnd) Close() error {
	p.state.close()

	return nil
}
