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

// Package registry tracks known wearable devices and the listeners installed
// on them, filtering out simulator devices.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/sdk"
)

// ClientSource hands out the live SDK handle. Satisfied by session.Manager.
type ClientSource interface {
	Client() (sdk.Client, error)
}

type appListenerKey struct {
	deviceID int64
	appKey   string
}

// Registry installs and tracks SDK listeners. Registrations are idempotent
// per SDK handle: at most one device listener per device and one app listener
// per (device, app) pair. Tracking resets whenever the handle changes, since
// listeners do not survive a recovered session.
type Registry struct {
	source           ClientSource
	discoveryTimeout time.Duration
	log              logger.Logger

	mu              sync.Mutex
	lastClient      sdk.Client
	deviceListeners map[int64]struct{}
	appListeners    map[appListenerKey]struct{}
}

// New creates a registry backed by the given client source.
func New(source ClientSource, discoveryTimeout time.Duration, log logger.Logger) *Registry {
	return &Registry{
		source:           source,
		discoveryTimeout: discoveryTimeout,
		log:              log,
		deviceListeners:  make(map[int64]struct{}),
		appListeners:     make(map[appListenerKey]struct{}),
	}
}

// syncClient resets listener tracking when the SDK handle changed: listeners
// do not survive a recovered session, so a fresh handle starts untracked.
func (r *Registry) syncClient(client sdk.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastClient == client {
		return
	}

	r.lastClient = client
	r.deviceListeners = make(map[int64]struct{})
	r.appListeners = make(map[appListenerKey]struct{})
}

// ListConnectedReal returns the physically connected devices, sorted by ID.
// SDK failures are logged and yield an empty set; session bring-up gates on
// this call, so it never blocks past the discovery timeout and never fails.
func (r *Registry) ListConnectedReal(ctx context.Context) []models.Device {
	client, err := r.source.Client()
	if err != nil {
		r.log.Debug().Err(err).Msg("Device query skipped, no live SDK handle")
		return nil
	}

	r.syncClient(client)

	qctx, cancel := context.WithTimeout(ctx, r.discoveryTimeout)
	defer cancel()

	devices, err := client.ConnectedDevices(qctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Device query failed")
		return nil
	}

	out := make([]models.Device, 0, len(devices))

	for _, d := range devices {
		if d.IsReal() && d.IsConnected() {
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Diff computes set differences by device ID.
func Diff(previous, current []models.Device) (added, removed []models.Device) {
	prev := make(map[int64]struct{}, len(previous))
	for _, d := range previous {
		prev[d.ID] = struct{}{}
	}

	cur := make(map[int64]struct{}, len(current))
	for _, d := range current {
		cur[d.ID] = struct{}{}
	}

	for _, d := range current {
		if _, ok := prev[d.ID]; !ok {
			added = append(added, d)
		}
	}

	for _, d := range previous {
		if _, ok := cur[d.ID]; !ok {
			removed = append(removed, d)
		}
	}

	return added, removed
}

// RegisterDeviceListener installs a status-change callback for the device.
// Re-registration for an already tracked device is a no-op.
func (r *Registry) RegisterDeviceListener(ctx context.Context, device models.Device, fn sdk.DeviceListener) error {
	client, err := r.source.Client()
	if err != nil {
		return err
	}

	r.syncClient(client)

	r.mu.Lock()

	if _, ok := r.deviceListeners[device.ID]; ok {
		r.mu.Unlock()
		return nil
	}

	r.deviceListeners[device.ID] = struct{}{}
	r.mu.Unlock()

	if err := client.RegisterDeviceListener(ctx, device, fn); err != nil {
		r.forgetDeviceListener(device.ID)
		return err
	}

	r.log.Debug().Int64("device_id", device.ID).Str("device", device.Name).Msg("Device listener registered")

	return nil
}

// RegisterAppListener installs a message callback for the given app on the
// given device. At most one registration exists per (device, app) pair;
// repeats are no-ops.
func (r *Registry) RegisterAppListener(ctx context.Context, device models.Device, appKey string, fn sdk.AppListener) error {
	client, err := r.source.Client()
	if err != nil {
		return err
	}

	r.syncClient(client)

	key := appListenerKey{deviceID: device.ID, appKey: appKey}

	r.mu.Lock()

	if _, ok := r.appListeners[key]; ok {
		r.mu.Unlock()
		return nil
	}

	r.appListeners[key] = struct{}{}
	r.mu.Unlock()

	if err := client.RegisterAppListener(ctx, device.ID, appKey, fn); err != nil {
		r.forgetAppListener(key)
		return err
	}

	r.log.Debug().Int64("device_id", device.ID).Str("app_key", appKey).Msg("App listener registered")

	return nil
}

// UnregisterAll removes every installed listener and clears the tracking
// maps. Safe when the SDK handle is already gone; tracking is cleared either
// way.
func (r *Registry) UnregisterAll() {
	client, err := r.source.Client()
	if err == nil {
		r.syncClient(client)
	}

	r.mu.Lock()
	appKeys := make([]appListenerKey, 0, len(r.appListeners))

	for key := range r.appListeners {
		appKeys = append(appKeys, key)
	}

	r.deviceListeners = make(map[int64]struct{})
	r.appListeners = make(map[appListenerKey]struct{})
	r.mu.Unlock()

	if err != nil {
		return
	}

	for _, key := range appKeys {
		client.UnregisterAppListener(key.deviceID, key.appKey)
	}
}

// ListenerCounts reports tracked device and app listeners.
func (r *Registry) ListenerCounts() (deviceListeners, appListeners int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.deviceListeners), len(r.appListeners)
}

func (r *Registry) forgetDeviceListener(deviceID int64) {
	r.mu.Lock()
	delete(r.deviceListeners, deviceID)
	r.mu.Unlock()
}

func (r *Registry) forgetAppListener(key appListenerKey) {
	r.mu.Lock()
	delete(r.appListeners, key)
	r.mu.Unlock()
}
