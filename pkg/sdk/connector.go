/*
 * Copyright 2025 Pairlink Labs.
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

package sdk

import (
	"fmt"

	"github.com/pairlink/watchbridge/pkg/models"
)

// ConnectorSimulator names the built-in simulator connector.
const ConnectorSimulator = "simulator"

// NewConnector returns the named connector implementation. Only the
// simulator ships with this module; vendor connectors register through their
// own builds.
func NewConnector(name string) (Connector, error) {
	switch name {
	case ConnectorSimulator:
		return NewSimulator(), nil
	default:
		return nil, fmt.Errorf("unknown connector %q", name)
	}
}

// NewSimulator returns a connector backed by the in-memory fake, seeded with
// one connected watch. Useful for local runs and CI; note the reserved
// simulator device ID would be filtered by the registry, so the seeded
// device poses as real hardware.
func NewSimulator() *FakeConnector {
	return &FakeConnector{
		Devices: []models.Device{
			{
				ID:    1001,
				Name:  "Forerunner 255",
				State: models.DeviceStateConnected,
			},
		},
	}
}
