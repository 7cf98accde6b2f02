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

//go:build windows

package sources

import (
	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
)

func platformRegistry() map[string]Factory {
	return map[string]Factory{
		SourceWindowsRegistry: func(_ config.Settings, log logger.Logger) locator.Locator {
			return NewWindowsRegistryLocator(log)
		},
		SourceMicrosoftStore: func(_ config.Settings, log logger.Logger) locator.Locator {
			return NewMicrosoftStoreLocator(log)
		},
	}
}

func platformOrder() []string {
	return []string{SourceWindowsRegistry, SourceMicrosoftStore, SourcePath}
}
