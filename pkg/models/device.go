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

package models

import "strings"

// ConnectionState is the pairing state the SDK reports for a device.
type ConnectionState string

const (
	DeviceStateConnected    ConnectionState = "CONNECTED"
	DeviceStateNotConnected ConnectionState = "NOT_CONNECTED"
	DeviceStateNotPaired    ConnectionState = "NOT_PAIRED"
)

// SimulatorDeviceID is the reserved identifier the vendor SDK assigns to its
// simulator device.
const SimulatorDeviceID int64 = 12345

const simulatorNameFragment = "simulator"

// Device represents a paired wearable. Identity is the ID; name and state are
// whatever the SDK last reported.
type Device struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	State ConnectionState `json:"state"`
}

// IsReal reports whether the device is physical hardware. The simulator is
// excluded by its reserved ID regardless of name, and by name as a fallback
// for SDK builds that assign it a fresh ID per launch.
func (d Device) IsReal() bool {
	if d.ID == SimulatorDeviceID {
		return false
	}

	return !strings.Contains(strings.ToLower(d.Name), simulatorNameFragment)
}

// IsConnected reports whether the device is currently reachable.
func (d Device) IsConnected() bool {
	return d.State == DeviceStateConnected
}
