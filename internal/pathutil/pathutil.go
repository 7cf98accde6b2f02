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

// Package pathutil canonicalizes filesystem paths for identity comparisons.
package pathutil

import (
	"path/filepath"
	"runtime"
	"strings"
)

// caseInsensitive reports whether the host filesystem compares names without case.
// macOS volumes are case-insensitive by default, as are Windows ones.
func caseInsensitive() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// NormCase returns the canonical form of p used as an identity key.
func NormCase(p string) string {
	if p == "" {
		return ""
	}

	clean := filepath.Clean(p)
	if caseInsensitive() {
		return strings.ToLower(clean)
	}

	return clean
}

// ArePathsSame compares two paths by canonical form.
func ArePathsSame(a, b string) bool {
	return NormCase(a) == NormCase(b)
}

// IsParentPath reports whether child equals parent or lies beneath it.
func IsParentPath(child, parent string) bool {
	c, p := NormCase(child), NormCase(parent)
	if c == "" || p == "" {
		return false
	}

	if c == p {
		return true
	}

	if !strings.HasSuffix(p, string(filepath.Separator)) {
		p += string(filepath.Separator)
	}

	return strings.HasPrefix(c, p)
}

// TrimQuotes removes one pair of surrounding double quotes, which users
// commonly paste around interpreter paths.
func TrimQuotes(p string) string {
	p = strings.TrimSpace(p)
	if len(p) >= 2 && strings.HasPrefix(p, `"`) && strings.HasSuffix(p, `"`) {
		return p[1 : len(p)-1]
	}

	return p
}
