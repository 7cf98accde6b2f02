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

// Package models holds the data types exchanged by the discovery pipeline.
package models

import (
	"fmt"
	"slices"
	"time"
)

// EnvKind classifies an environment.
type EnvKind string

const (
	KindUnknown           EnvKind = "unknown"
	KindPyenv             EnvKind = "pyenv"
	KindConda             EnvKind = "conda"
	KindMicrosoftStore    EnvKind = "microsoftstore"
	KindPipenv            EnvKind = "pipenv"
	KindPoetry            EnvKind = "poetry"
	KindActiveState       EnvKind = "activestate"
	KindVenv              EnvKind = "venv"
	KindVirtualEnvWrapper EnvKind = "virtualenvwrapper"
	KindVirtualEnv        EnvKind = "virtualenv"
	KindOtherVirtual      EnvKind = "othervirtual"
	KindOtherGlobal       EnvKind = "otherglobal"
	KindSystem            EnvKind = "system"
	KindCustom            EnvKind = "custom"
)

// kindPriority orders kinds from most to least specific. When two sources
// disagree about a path, the kind appearing first wins.
//
//nolint:gochecknoglobals // lookup table
var kindPriority = []EnvKind{
	KindPyenv,
	KindConda,
	KindMicrosoftStore,
	KindPipenv,
	KindPoetry,
	KindActiveState,
	KindVenv,
	KindVirtualEnvWrapper,
	KindVirtualEnv,
	KindOtherVirtual,
	KindOtherGlobal,
	KindSystem,
	KindCustom,
	KindUnknown,
}

// Rank returns the priority of k; lower is more specific.
func (k EnvKind) Rank() int {
	if i := slices.Index(kindPriority, k); i >= 0 {
		return i
	}

	return len(kindPriority)
}

// IsVirtual reports whether k denotes an environment layered on another interpreter.
func (k EnvKind) IsVirtual() bool {
	switch k {
	case KindPipenv, KindPoetry, KindVenv, KindVirtualEnvWrapper, KindVirtualEnv, KindOtherVirtual:
		return true
	case KindUnknown, KindPyenv, KindConda, KindMicrosoftStore, KindActiveState,
		KindOtherGlobal, KindSystem, KindCustom:
		return false
	}

	return false
}

// Source identifies the discovery technique that reported an environment.
type Source string

const (
	SourceUnknown         Source = "unknown"
	SourcePathEnvVar      Source = "path env var"
	SourceWindowsRegistry Source = "windows registry"
	SourceConda           Source = "conda"
	SourcePyenv           Source = "pyenv"
	SourceVirtualEnvDirs  Source = "global virtual env dirs"
	SourceCustomDirs      Source = "custom virtual env dirs"
	SourceWorkspace       Source = "workspace"
	SourcePoetry          Source = "poetry"
	SourceActiveState     Source = "activestate"
	SourceMicrosoftStore  Source = "microsoft store"
	SourceManual          Source = "manual"
)

// BasicEnv is a raw finding from a single source locator.
type BasicEnv struct {
	Executable     string            `json:"executable"`
	Kind           EnvKind           `json:"kind"`
	Sources        []Source          `json:"sources,omitempty"`
	SearchLocation string            `json:"search_location,omitempty"`
	Hints          map[string]string `json:"hints,omitempty"`
}

// Clone returns a deep copy of b.
func (b BasicEnv) Clone() BasicEnv {
	out := b
	out.Sources = slices.Clone(b.Sources)

	if b.Hints != nil {
		out.Hints = make(map[string]string, len(b.Hints))
		for k, v := range b.Hints {
			out.Hints[k] = v
		}
	}

	return out
}

// Arch is the interpreter's pointer width.
type Arch string

const (
	ArchUnknown Arch = ""
	ArchX86     Arch = "x86"
	ArchX64     Arch = "x64"
)

// Version is a parsed interpreter version. Unknown components are -1.
type Version struct {
	Major   int    `json:"major"`
	Minor   int    `json:"minor"`
	Micro   int    `json:"micro"`
	Release string `json:"release,omitempty"`
	SysVer  string `json:"sys_version,omitempty"`
}

// EmptyVersion has all components unknown.
func EmptyVersion() Version {
	return Version{Major: -1, Minor: -1, Micro: -1}
}

// IsEmpty reports whether nothing is known about the version.
func (v Version) IsEmpty() bool {
	return v.Major < 0
}

func (v Version) String() string {
	switch {
	case v.Major < 0:
		return ""
	case v.Minor < 0:
		return fmt.Sprintf("%d", v.Major)
	case v.Micro < 0:
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	default:
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	}
}

// ResolvedEnv is a fully enriched environment. Executable is canonical and is
// the record's identity.
type ResolvedEnv struct {
	Executable     string    `json:"executable"`
	Kind           EnvKind   `json:"kind"`
	Version        Version   `json:"version"`
	Arch           Arch      `json:"arch,omitempty"`
	Name           string    `json:"name,omitempty"`
	Location       string    `json:"location,omitempty"`
	SysPrefix      string    `json:"sys_prefix,omitempty"`
	DisplayName    string    `json:"display_name"`
	SearchLocation string    `json:"search_location,omitempty"`
	Sources        []Source  `json:"sources,omitempty"`
	LastResolved   time.Time `json:"last_resolved"`
}

// Clone returns a deep copy of r.
func (r *ResolvedEnv) Clone() *ResolvedEnv {
	if r == nil {
		return nil
	}

	out := *r
	out.Sources = slices.Clone(r.Sources)

	return &out
}

// Equal compares the discovery-relevant fields of two records, ignoring the
// resolution timestamp.
func (r *ResolvedEnv) Equal(other *ResolvedEnv) bool {
	if r == nil || other == nil {
		return r == other
	}

	return r.Executable == other.Executable &&
		r.Kind == other.Kind &&
		r.Version == other.Version &&
		r.Arch == other.Arch &&
		r.Name == other.Name &&
		r.Location == other.Location &&
		r.SysPrefix == other.SysPrefix &&
		r.DisplayName == other.DisplayName &&
		r.SearchLocation == other.SearchLocation &&
		slices.Equal(r.Sources, other.Sources)
}

// MergeSources returns the union of a and b, keeping first-seen order.
func MergeSources(a, b []Source) []Source {
	out := slices.Clone(a)

	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}

	return out
}
