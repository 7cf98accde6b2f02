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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/carverauto/envradar/pkg/logger"
)

// maxLineSize bounds a single encoded message on a stream.
const maxLineSize = 16 << 20

type received struct {
	msg Message
	err error
}

// StreamConn exchanges newline-delimited JSON messages over a reader and a
// writer, typically a child process's stdio.
type StreamConn struct {
	w      io.Writer
	closer io.Closer

	sendMu sync.Mutex
	in     chan received
	done   chan struct{}
	once   sync.Once
}

var _ Conn = (*StreamConn)(nil)

// NewStreamConn starts reading messages from r. closer, when set, is called
// by Close to release the underlying resources.
func NewStreamConn(r io.Reader, w io.Writer, closer io.Closer) *StreamConn {
	s := &StreamConn{
		w:      w,
		closer: closer,
		in:     make(chan received, 64),
		done:   make(chan struct{}),
	}

	go s.read(r)

	return s
}

func (s *StreamConn) read(r io.Reader) {
	defer close(s.in)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var item received
		if err := json.Unmarshal(line, &item.msg); err != nil {
			item.err = fmt.Errorf("decode message: %w", err)
		}

		select {
		case s.in <- item:
		case <-s.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case s.in <- received{err: fmt.Errorf("read stream: %w", err)}:
		case <-s.done:
		}
	}
}

// Send writes msg as one line.
func (s *StreamConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if _, err := s.w.Write(append(data, '\n')); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}

		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Receive returns the next message. End of stream is reported as ErrClosed.
func (s *StreamConn) Receive(ctx context.Context) (Message, error) {
	select {
	case item, ok := <-s.in:
		if !ok {
			return Message{}, ErrClosed
		}

		return item.msg, item.err
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close releases the stream. It is safe to call more than once.
func (s *StreamConn) Close() error {
	var err error

	s.once.Do(func() {
		close(s.done)

		if s.closer != nil {
			err = s.closer.Close()
		}
	})

	return err
}

// process closes a spawned worker's stdin and waits for it to exit.
type process struct {
	cmd   *exec.Cmd
	stdin io.Closer
	log   logger.Logger
}

func (p *process) Close() error {
	_ = p.stdin.Close()

	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.log.Debug().Int("code", exitErr.ExitCode()).Msg("Worker process exited")

			return nil
		}

		return fmt.Errorf("wait for worker: %w", err)
	}

	return nil
}

// Spawn starts a worker process and connects to it over its stdio. The
// process sees end of input when the connection is closed and is killed if
// ctx is cancelled first.
func Spawn(ctx context.Context, log logger.Logger, name string, args ...string) (*StreamConn, error) {
	log = logger.Component(log, "worker-process")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	log.Info().Str("command", name).Int("pid", cmd.Process.Pid).Msg("Worker process started")

	return NewStreamConn(stdout, stdin, &process{cmd: cmd, stdin: stdin, log: log}), nil
}
