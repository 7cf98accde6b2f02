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

// Package worker carries the middleware API across a message boundary:
// a closed set of typed requests, a Server that dispatches them to an API
// and a Client that implements the API by sending them.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carverauto/envradar/pkg/models"
)

// MessageType distinguishes the three kinds of wire messages.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
)

// Method names on the wire.
const (
	MethodResolveEnv       = "resolveEnv"
	MethodIterInitialize   = "iterInitialize"
	MethodIterNext         = "iterNext"
	MethodWorkspaceFolders = "onDidChangeWorkspaceFolders"
	MethodDispose          = "dispose"

	NotifyChanged       = "onChanged"
	NotifyIterOnUpdated = "iterOnUpdated"
)

// invalidMethodMessage is the error text returned for unknown methods.
const invalidMethodMessage = "Invalid method name"

var (
	// ErrInvalidMethod is returned by DecodeRequest for unknown methods.
	ErrInvalidMethod = errors.New(invalidMethodMessage)
	// ErrClosed is returned by connections and clients after Close.
	ErrClosed = errors.New("worker connection closed")

	errBadArgs = errors.New("invalid request arguments")
)

// Message is the single wire shape. Requests carry ID, Method and Args;
// responses echo ID with Result or Error; notifications carry Method,
// Handle when they concern an iterator, and Result.
type Message struct {
	ID     uint64            `json:"id,omitempty"`
	Type   MessageType       `json:"type"`
	Method string            `json:"method,omitempty"`
	Handle models.IteratorID `json:"handle,omitempty"`
	Args   json.RawMessage   `json:"args,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Request is one of the typed requests below.
type Request interface {
	Method() string
}

// ResolveEnvRequest asks for a single executable to be resolved.
type ResolveEnvRequest struct {
	Path string `json:"path"`
}

// IterInitializeRequest opens an iteration session.
type IterInitializeRequest struct {
	Query *models.Query `json:"query,omitempty"`
}

// IterNextRequest pulls the next environment of a session.
type IterNextRequest struct {
	Handle models.IteratorID `json:"handle"`
}

// WorkspaceFoldersRequest forwards a root set change. No response is sent.
type WorkspaceFoldersRequest struct {
	Event models.RootsChangeEvent `json:"event"`
}

// DisposeRequest disposes the worker's API.
type DisposeRequest struct{}

func (ResolveEnvRequest) Method() string       { return MethodResolveEnv }
func (IterInitializeRequest) Method() string   { return MethodIterInitialize }
func (IterNextRequest) Method() string         { return MethodIterNext }
func (WorkspaceFoldersRequest) Method() string { return MethodWorkspaceFolders }
func (DisposeRequest) Method() string          { return MethodDispose }

// expectsResponse reports whether the sender waits for a reply to req.
func expectsResponse(req Request) bool {
	_, fireAndForget := req.(WorkspaceFoldersRequest)

	return !fireAndForget
}

// EncodeRequest builds the wire message for req.
func EncodeRequest(id uint64, req Request) (Message, error) {
	args, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", req.Method(), err)
	}

	return Message{ID: id, Type: TypeRequest, Method: req.Method(), Args: args}, nil
}

// DecodeRequest parses a request message into its typed form.
func DecodeRequest(msg Message) (Request, error) {
	switch msg.Method {
	case MethodResolveEnv:
		return decodeArgs[ResolveEnvRequest](msg)
	case MethodIterInitialize:
		return decodeArgs[IterInitializeRequest](msg)
	case MethodIterNext:
		return decodeArgs[IterNextRequest](msg)
	case MethodWorkspaceFolders:
		return decodeArgs[WorkspaceFoldersRequest](msg)
	case MethodDispose:
		return DisposeRequest{}, nil
	default:
		return nil, ErrInvalidMethod
	}
}

func decodeArgs[T Request](msg Message) (Request, error) {
	var req T

	if len(msg.Args) == 0 {
		return req, nil
	}

	if err := json.Unmarshal(msg.Args, &req); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", errBadArgs, msg.Method, err)
	}

	return req, nil
}

func responseTo(msg Message, result interface{}, err error) Message {
	resp := Message{ID: msg.ID, Type: TypeResponse, Method: msg.Method}

	if err != nil {
		resp.Error = err.Error()

		return resp
	}

	data, mErr := json.Marshal(result)
	if mErr != nil {
		resp.Error = mErr.Error()

		return resp
	}

	resp.Result = data

	return resp
}

func notification(method string, handle models.IteratorID, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", method, err)
	}

	return Message{Type: TypeNotification, Method: method, Handle: handle, Result: data}, nil
}

// RemoteError is a failure reported by the worker.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Method, e.Message)
}

// IsInvalidMethod reports whether err is the worker rejecting an unknown method.
func IsInvalidMethod(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message == invalidMethodMessage
	}

	return errors.Is(err, ErrInvalidMethod)
}
