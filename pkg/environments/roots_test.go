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

package environments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/pkg/models"
)

func TestStaticRootsReportsDifferences(t *testing.T) {
	dir := t.TempDir()
	a, b, c := dir+"/a", dir+"/b", dir+"/c"

	roots := NewStaticRoots(a, b, a, "")
	defer roots.Dispose()

	assert.Equal(t, []string{a, b}, roots.Roots())

	var got []models.RootsChangeEvent

	roots.OnDidChange().Subscribe(func(e models.RootsChangeEvent) { got = append(got, e) })

	roots.Set(b, c)
	roots.Set(c, b)

	require.Len(t, got, 1, "reordering is not a change")
	assert.Equal(t, []string{c}, got[0].Added)
	assert.Equal(t, []string{a}, got[0].Removed)
	assert.Equal(t, []string{c, b}, roots.Roots())
}
