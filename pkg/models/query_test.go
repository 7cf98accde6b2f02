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

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func root(parts ...string) string {
	return filepath.Join(append([]string{string(filepath.Separator)}, parts...)...)
}

func TestQueryMatchesLocation(t *testing.T) {
	a := root("work", "a")
	b := root("work", "b")

	tests := []struct {
		name     string
		query    *Query
		location string
		want     bool
	}{
		{"nil query global", nil, "", true},
		{"nil query rooted", nil, a, true},
		{"rooted query includes child", RootedQuery(a), filepath.Join(a, "sub"), true},
		{"rooted query excludes other root", RootedQuery(a), b, false},
		{"rooted-only excludes global", RootedQuery(a), "", false},
		{
			"rooted query keeps global when allowed",
			&Query{SearchLocations: &SearchLocations{Roots: []string{a}}},
			"",
			true,
		},
		{"kinds only", &Query{Kinds: []EnvKind{KindVenv}}, b, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.MatchesLocation(tt.location))
		})
	}
}

func TestQueryMatchesKind(t *testing.T) {
	q := &Query{Kinds: []EnvKind{KindConda}}

	assert.True(t, q.Matches(&ResolvedEnv{Kind: KindConda}))
	assert.False(t, q.Matches(&ResolvedEnv{Kind: KindVenv}))
	assert.False(t, q.Matches(nil))
}

func TestQueryKeyIsStable(t *testing.T) {
	a, b := root("a"), root("b")

	assert.Empty(t, (*Query)(nil).Key())
	assert.Empty(t, (&Query{}).Key())
	assert.Equal(t, RootedQuery(a, b).Key(), RootedQuery(b, a).Key())
	assert.NotEqual(t, RootedQuery(a).Key(), RootedQuery(b).Key())
}

func TestQueryOverlaps(t *testing.T) {
	a, b := root("a"), root("b")

	assert.True(t, (*Query)(nil).Overlaps(RootedQuery(a)))
	assert.True(t, RootedQuery(a).Overlaps(RootedQuery(filepath.Join(a, "x"))))
	assert.False(t, RootedQuery(a).Overlaps(RootedQuery(b)))
	assert.False(t, (&Query{Kinds: []EnvKind{KindConda}}).Overlaps(&Query{Kinds: []EnvKind{KindVenv}}))
}

func TestKindRank(t *testing.T) {
	assert.Less(t, KindConda.Rank(), KindVenv.Rank())
	assert.Less(t, KindVenv.Rank(), KindSystem.Rank())
	assert.Less(t, KindUnknown.Rank(), EnvKind("bogus").Rank())
	assert.True(t, KindPoetry.IsVirtual())
	assert.False(t, KindSystem.IsVirtual())
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "3.11.4", Version{Major: 3, Minor: 11, Micro: 4}.String())
	assert.Equal(t, "3.9", Version{Major: 3, Minor: 9, Micro: -1}.String())
	assert.Empty(t, EmptyVersion().String())
}

func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"1.5s","b":2000}`), &cfg))
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.A)
	assert.Equal(t, Duration(2000), cfg.B)

	require.Error(t, json.Unmarshal([]byte(`{"a":true}`), &cfg))
}

func TestResolvedEnvEqualIgnoresTimestamp(t *testing.T) {
	a := &ResolvedEnv{Executable: "/x", Kind: KindVenv, LastResolved: time.Now()}
	b := a.Clone()
	b.LastResolved = time.Time{}

	assert.True(t, a.Equal(b))

	b.Sources = []Source{SourceWorkspace}
	assert.False(t, a.Equal(b))
	assert.Equal(t, []Source{SourceWorkspace, SourceConda}, MergeSources(b.Sources, []Source{SourceWorkspace, SourceConda}))
}
