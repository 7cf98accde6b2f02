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

package models

// ChangeType describes what happened to an environment.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeEvent reports that environments changed outside of an iteration.
// Path and SearchLocation are optional; an event with neither means
// "anything may have changed".
type ChangeEvent struct {
	Type           ChangeType   `json:"type,omitempty"`
	Path           string       `json:"path,omitempty"`
	SearchLocation string       `json:"search_location,omitempty"`
	Kind           EnvKind      `json:"kind,omitempty"`
	Old            *ResolvedEnv `json:"old,omitempty"`
	New            *ResolvedEnv `json:"new,omitempty"`
}

// Scope returns the query whose refresh would observe the change.
func (e ChangeEvent) Scope() *Query {
	if e.SearchLocation == "" {
		return nil
	}

	return RootedQuery(e.SearchLocation)
}

// ProgressStage marks points in a discovery pass.
type ProgressStage string

const (
	StageDiscoveryStarted   ProgressStage = "discoveryStarted"
	StageAllPathsDiscovered ProgressStage = "allPathsDiscovered"
	StageDiscoveryFinished  ProgressStage = "discoveryFinished"
)

// UpdateEvent is emitted by an iterator for an item it already yielded, or
// as a progress marker when Stage is set. Update is nil when the item at
// Index became invalid.
type UpdateEvent[T any] struct {
	Index  int           `json:"index"`
	Old    *T            `json:"old,omitempty"`
	Update *T            `json:"update,omitempty"`
	Stage  ProgressStage `json:"stage,omitempty"`
}

// IsProgress reports whether e is a stage marker rather than an item update.
func (e UpdateEvent[T]) IsProgress() bool {
	return e.Stage != ""
}

// ProgressEvent builds a stage marker.
func ProgressEvent[T any](stage ProgressStage) UpdateEvent[T] {
	return UpdateEvent[T]{Index: -1, Stage: stage}
}

// RootsChangeEvent lists workspace roots added and removed together.
type RootsChangeEvent struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// IteratorID addresses an iteration session held by the middleware. Zero is
// never issued.
type IteratorID uint64

// RefreshState is the state of the collection's discovery.
type RefreshState string

const (
	RefreshIdle    RefreshState = "idle"
	RefreshRunning RefreshState = "running"
)
