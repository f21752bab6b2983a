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
	"context"
	"sync"
	"time"

	"github.com/pairlink/watchbridge/pkg/models"
)

// FakeConnector is an in-memory Connector for tests and simulator runs.
// Each Open hands out a fresh FakeClient seeded with Devices.
type FakeConnector struct {
	mu sync.Mutex

	// Devices seeds every client handed out.
	Devices []models.Device
	// ReadyDelay postpones the Ready lifecycle event.
	ReadyDelay time.Duration
	// OpenErr fails Open outright.
	OpenErr error
	// AttachErr is delivered as a LifecycleError instead of Ready.
	AttachErr error

	opens   int
	clients []*FakeClient
}

// Open implements Connector.
func (c *FakeConnector) Open(_ context.Context) (Client, <-chan LifecycleEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.OpenErr != nil {
		return nil, nil, c.OpenErr
	}

	c.opens++

	client := NewFakeClient(c.Devices...)
	c.clients = append(c.clients, client)

	ch := make(chan LifecycleEvent, 1)
	delay := c.ReadyDelay
	attachErr := c.AttachErr

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}

		if attachErr != nil {
			ch <- LifecycleEvent{Kind: LifecycleError, Err: attachErr}
			return
		}

		ch <- LifecycleEvent{Kind: LifecycleReady}
	}()

	client.lifecycle = ch

	return client, ch, nil
}

// OpenCount reports how many sessions were opened.
func (c *FakeConnector) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opens
}

// LastClient returns the most recently opened client, or nil.
func (c *FakeConnector) LastClient() *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.clients) == 0 {
		return nil
	}

	return c.clients[len(c.clients)-1]
}

type appListenerKey struct {
	deviceID int64
	appKey   string
}

// FakeClient is an in-memory Client. Test hooks push messages and device
// changes the way the real SDK would.
type FakeClient struct {
	mu sync.Mutex

	devices         map[int64]models.Device
	deviceListeners map[int64]DeviceListener
	appListeners    map[appListenerKey]AppListener
	broken          bool
	shutdown        bool
	lifecycle       chan LifecycleEvent
}

// NewFakeClient builds a client seeded with the given devices.
func NewFakeClient(devices ...models.Device) *FakeClient {
	c := &FakeClient{
		devices:         make(map[int64]models.Device),
		deviceListeners: make(map[int64]DeviceListener),
		appListeners:    make(map[appListenerKey]AppListener),
	}

	for _, d := range devices {
		c.devices[d.ID] = d
	}

	return c
}

// ConnectedDevices implements Client.
func (c *FakeClient) ConnectedDevices(_ context.Context) ([]models.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken || c.shutdown {
		return nil, ErrNotInitialized
	}

	out := make([]models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}

	return out, nil
}

// RegisterDeviceListener implements Client.
func (c *FakeClient) RegisterDeviceListener(_ context.Context, device models.Device, fn DeviceListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken || c.shutdown {
		return ErrNotInitialized
	}

	c.deviceListeners[device.ID] = fn

	return nil
}

// RegisterAppListener implements Client.
func (c *FakeClient) RegisterAppListener(_ context.Context, deviceID int64, appKey string, fn AppListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken || c.shutdown {
		return ErrNotInitialized
	}

	c.appListeners[appListenerKey{deviceID: deviceID, appKey: appKey}] = fn

	return nil
}

// UnregisterAppListener implements Client.
func (c *FakeClient) UnregisterAppListener(deviceID int64, appKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.appListeners, appListenerKey{deviceID: deviceID, appKey: appKey})
}

// Shutdown implements Client.
func (c *FakeClient) Shutdown(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return nil
	}

	c.shutdown = true
	c.deviceListeners = make(map[int64]DeviceListener)
	c.appListeners = make(map[appListenerKey]AppListener)

	if c.lifecycle != nil {
		select {
		case c.lifecycle <- LifecycleEvent{Kind: LifecycleShutdown}:
		default:
		}
	}

	return nil
}

// Break simulates binding loss: every subsequent operation fails with
// ErrNotInitialized.
func (c *FakeClient) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken = true
}

// SetDevice adds or replaces a device and fires its status listener.
func (c *FakeClient) SetDevice(device models.Device) {
	c.mu.Lock()
	c.devices[device.ID] = device
	fn := c.deviceListeners[device.ID]
	c.mu.Unlock()

	if fn != nil {
		fn(device)
	}
}

// RemoveDevice drops a device and fires its status listener with the
// NotConnected state.
func (c *FakeClient) RemoveDevice(deviceID int64) {
	c.mu.Lock()
	device, ok := c.devices[deviceID]
	delete(c.devices, deviceID)
	fn := c.deviceListeners[deviceID]
	c.mu.Unlock()

	if ok && fn != nil {
		device.State = models.DeviceStateNotConnected
		fn(device)
	}
}

// PushMessage delivers a raw message to the registered app listener, if any.
// It reports whether a listener was installed.
func (c *FakeClient) PushMessage(deviceID int64, appKey, raw string) bool {
	c.mu.Lock()
	fn := c.appListeners[appListenerKey{deviceID: deviceID, appKey: appKey}]
	c.mu.Unlock()

	if fn == nil {
		return false
	}

	fn(raw)

	return true
}

// ListenerCounts reports installed device and app listeners.
func (c *FakeClient) ListenerCounts() (deviceListeners, appListeners int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.deviceListeners), len(c.appListeners)
}

// IsShutdown reports whether Shutdown was called.
func (c *FakeClient) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shutdown
}
