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

// Package sdk defines the boundary to the vendor wearable-device SDK. The
// vendor's callback API is modelled as message passing: lifecycle transitions
// arrive on a channel, and the session manager owns the consumer.
package sdk

import (
	"context"
	"errors"

	"github.com/pairlink/watchbridge/pkg/models"
)

// ErrNotInitialized is returned by Client operations when the SDK's
// underlying service binding has been lost. A failed operation is the only
// reliable detection point for binding loss.
var ErrNotInitialized = errors.New("sdk not initialized")

// LifecycleKind enumerates the session lifecycle transitions the SDK reports.
type LifecycleKind int

const (
	LifecycleReady LifecycleKind = iota
	LifecycleError
	LifecycleShutdown
)

// LifecycleEvent is a lifecycle transition pushed by the SDK after Open.
type LifecycleEvent struct {
	Kind LifecycleKind
	Err  error // set for LifecycleError
}

// DeviceListener receives device status changes.
type DeviceListener func(device models.Device)

// AppListener receives raw messages pushed by a watch app.
type AppListener func(raw string)

// Client is a live SDK handle. All operations may return ErrNotInitialized
// once the underlying binding is gone.
type Client interface {
	// ConnectedDevices returns every device the SDK currently knows about,
	// including simulators and unpaired entries.
	ConnectedDevices(ctx context.Context) ([]models.Device, error)

	// RegisterDeviceListener installs a status-change callback for the device.
	RegisterDeviceListener(ctx context.Context, device models.Device, fn DeviceListener) error

	// RegisterAppListener installs a message callback for the given app on
	// the given device.
	RegisterAppListener(ctx context.Context, deviceID int64, appKey string, fn AppListener) error

	// UnregisterAppListener removes a previously installed app listener.
	UnregisterAppListener(deviceID int64, appKey string)

	// Shutdown releases the handle. The handle is unusable afterwards.
	Shutdown(ctx context.Context) error
}

// Connector opens SDK sessions. Open starts an asynchronous attach; the
// returned channel delivers Ready, Error, and Shutdown transitions until the
// handle is shut down.
type Connector interface {
	Open(ctx context.Context) (Client, <-chan LifecycleEvent, error)
}
