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
	"slices"
	"sort"
	"strings"

	"github.com/carverauto/envradar/internal/pathutil"
)

// SearchLocations restricts a query to environments rooted under Roots.
type SearchLocations struct {
	Roots                 []string `json:"roots"`
	DoNotIncludeNonRooted bool     `json:"do_not_include_non_rooted,omitempty"`
}

// Query narrows discovery. A nil Query, or one with no fields set, asks for everything.
type Query struct {
	Kinds           []EnvKind        `json:"kinds,omitempty"`
	SearchLocations *SearchLocations `json:"search_locations,omitempty"`
}

// RootedQuery builds a query for the given roots only.
func RootedQuery(roots ...string) *Query {
	return &Query{SearchLocations: &SearchLocations{Roots: roots, DoNotIncludeNonRooted: true}}
}

// IsFull reports whether q covers every environment.
func (q *Query) IsFull() bool {
	return q == nil || (len(q.Kinds) == 0 && q.SearchLocations == nil)
}

// IncludesNonRooted reports whether environments without a search location match.
func (q *Query) IncludesNonRooted() bool {
	return q == nil || q.SearchLocations == nil || !q.SearchLocations.DoNotIncludeNonRooted
}

// Roots returns the canonical roots of q, or nil when q is not rooted.
func (q *Query) Roots() []string {
	if q == nil || q.SearchLocations == nil {
		return nil
	}

	out := make([]string, 0, len(q.SearchLocations.Roots))
	for _, r := range q.SearchLocations.Roots {
		out = append(out, pathutil.NormCase(r))
	}

	sort.Strings(out)

	return slices.Compact(out)
}

// Key is a stable identifier for the scope of q; the full query has key "".
func (q *Query) Key() string {
	if q.IsFull() {
		return ""
	}

	var b strings.Builder

	if q.SearchLocations != nil {
		b.WriteString("roots=")
		b.WriteString(strings.Join(q.Roots(), "|"))

		if q.SearchLocations.DoNotIncludeNonRooted {
			b.WriteString(";rooted-only")
		}
	}

	if len(q.Kinds) > 0 {
		kinds := make([]string, 0, len(q.Kinds))
		for _, k := range q.Kinds {
			kinds = append(kinds, string(k))
		}

		sort.Strings(kinds)
		b.WriteString(";kinds=")
		b.WriteString(strings.Join(kinds, "|"))
	}

	return b.String()
}

// MatchesLocation reports whether an environment with the given search
// location falls inside the scope of q, ignoring kinds.
func (q *Query) MatchesLocation(searchLocation string) bool {
	if searchLocation == "" {
		return q.IncludesNonRooted()
	}

	if q == nil || q.SearchLocations == nil {
		return true
	}

	for _, root := range q.SearchLocations.Roots {
		if pathutil.IsParentPath(searchLocation, root) {
			return true
		}
	}

	return false
}

// MatchesKind reports whether kind is accepted by q.
func (q *Query) MatchesKind(kind EnvKind) bool {
	return q == nil || len(q.Kinds) == 0 || slices.Contains(q.Kinds, kind)
}

// Matches applies the full filter of q to a resolved environment.
func (q *Query) Matches(env *ResolvedEnv) bool {
	return env != nil && q.MatchesKind(env.Kind) && q.MatchesLocation(env.SearchLocation)
}

// Overlaps reports whether some environment could match both q and other.
func (q *Query) Overlaps(other *Query) bool {
	if q.IsFull() || other.IsFull() {
		return true
	}

	if len(q.Kinds) > 0 && len(other.Kinds) > 0 {
		shared := false

		for _, k := range q.Kinds {
			if slices.Contains(other.Kinds, k) {
				shared = true

				break
			}
		}

		if !shared {
			return false
		}
	}

	if q.IncludesNonRooted() && other.IncludesNonRooted() {
		return true
	}

	if q.SearchLocations == nil || other.SearchLocations == nil {
		return true
	}

	for _, a := range q.SearchLocations.Roots {
		for _, b := range other.SearchLocations.Roots {
			if pathutil.IsParentPath(a, b) || pathutil.IsParentPath(b, a) {
				return true
			}
		}
	}

	return false
}

// WithRoot narrows q to a single root, preserving its kinds.
func (q *Query) WithRoot(root string) *Query {
	out := &Query{SearchLocations: &SearchLocations{Roots: []string{root}, DoNotIncludeNonRooted: true}}
	if q != nil {
		out.Kinds = slices.Clone(q.Kinds)
	}

	return out
}
