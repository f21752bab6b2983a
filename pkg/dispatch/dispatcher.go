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

// Package dispatch turns parsed watch messages and device-state changes into
// broadcast events, history lines, and notification text.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/notify"
	"github.com/pairlink/watchbridge/pkg/wire"
)

// Publisher publishes one event to the broadcast bus. Delivery is
// at-most-once; errors are absorbed by the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

const historyTimeFormat = "15:04:05"

// Dispatcher owns the history buffer and fans dispatched events out to the
// bus and the notification sink. The lock covers only the in-memory state;
// publishing and notification updates happen outside it.
type Dispatcher struct {
	bus      Publisher
	notifier notify.Notifier
	log      logger.Logger
	now      func() time.Time

	mu          sync.Mutex
	history     *historyBuffer
	connected   []models.Device
	lastMessage string
}

// New creates a dispatcher with a history buffer of the given capacity.
func New(bus Publisher, notifier notify.Notifier, historySize int, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		history:  newHistoryBuffer(historySize),
	}
}

// OnMessage parses and relays one raw watch message. Parse failures are
// logged and dropped: messages are best-effort telemetry, and a bad payload
// must never take the session down.
func (d *Dispatcher) OnMessage(ctx context.Context, device models.Device, raw string, receiveTime time.Time) {
	msg, err := wire.Parse(raw)
	if err != nil {
		d.log.Warn().Err(err).Str("device", device.Name).Str("raw", raw).Msg("Dropping unparseable message")
		return
	}

	dev := device

	var (
		event models.Event
		line  string
	)

	switch msg.Kind {
	case wire.KindActivityStarted:
		event = models.NewActivityStarted(&dev, msg.WatchTime, msg.Activity, receiveTime)
		line = fmt.Sprintf("%s %s: %s started", receiveTime.Format(historyTimeFormat), device.Name, msg.Activity)
	case wire.KindActivityStopped:
		event = models.NewActivityStopped(&dev, msg.WatchTime, msg.Activity, msg.DurationSec, receiveTime)
		line = fmt.Sprintf("%s %s: %s stopped after %ds",
			receiveTime.Format(historyTimeFormat), device.Name, msg.Activity, msg.DurationSec)
	}

	d.mu.Lock()
	d.history.append(line)
	d.lastMessage = line
	status := d.statusLocked()
	d.mu.Unlock()

	d.publish(ctx, event)
	d.notifier.Update(ctx, status)
}

// OnDeviceChange publishes connect/disconnect events in detection order and
// refreshes the notification text with the new connected set.
func (d *Dispatcher) OnDeviceChange(ctx context.Context, added, removed, connected []models.Device) {
	receiveTime := d.now()
	events := make([]models.Event, 0, len(added)+len(removed))
	lines := make([]string, 0, len(added)+len(removed))

	for _, dev := range added {
		events = append(events, models.NewDeviceConnected(dev, receiveTime))
		lines = append(lines, fmt.Sprintf("%s %s connected", receiveTime.Format(historyTimeFormat), dev.Name))
	}

	for _, dev := range removed {
		events = append(events, models.NewDeviceDisconnected(dev, receiveTime))
		lines = append(lines, fmt.Sprintf("%s %s disconnected", receiveTime.Format(historyTimeFormat), dev.Name))
	}

	d.mu.Lock()

	for _, line := range lines {
		d.history.append(line)
	}

	d.connected = append([]models.Device(nil), connected...)
	status := d.statusLocked()
	d.mu.Unlock()

	for _, event := range events {
		d.publish(ctx, event)
	}

	d.notifier.Update(ctx, status)
}

// PublishCreated announces the session and records the initial device set.
func (d *Dispatcher) PublishCreated(ctx context.Context, startTime time.Time, connected []models.Device) {
	receiveTime := d.now()
	event := models.NewSessionCreated(startTime, receiveTime, len(connected))

	d.mu.Lock()
	d.history.append(fmt.Sprintf("%s session started, %d device(s)", receiveTime.Format(historyTimeFormat), len(connected)))
	d.connected = append([]models.Device(nil), connected...)
	status := d.statusLocked()
	d.mu.Unlock()

	d.publish(ctx, event)
	d.notifier.Update(ctx, status)
}

// PublishTerminated emits the final event of a session.
func (d *Dispatcher) PublishTerminated(ctx context.Context, reason string) {
	receiveTime := d.now()
	event := models.NewSessionTerminated(reason, receiveTime)

	d.mu.Lock()
	d.history.append(fmt.Sprintf("%s session terminated (%s)", receiveTime.Format(historyTimeFormat), reason))
	status := d.statusLocked()
	d.mu.Unlock()

	d.publish(ctx, event)
	d.notifier.Update(ctx, status)
}

// PublishPong answers a ping. Pongs skip the history buffer.
func (d *Dispatcher) PublishPong(ctx context.Context, startTime time.Time) {
	d.publish(ctx, models.NewPong(startTime, d.now()))
}

// History returns a newline-joined snapshot of the buffer at call time.
func (d *Dispatcher) History() string {
	d.mu.Lock()
	lines := d.history.snapshot()
	d.mu.Unlock()

	return strings.Join(lines, "\n")
}

// publish absorbs delivery errors: the bus is fire-and-forget, and consumers
// that need liveness confirmation poll with ping.
func (d *Dispatcher) publish(ctx context.Context, event models.Event) {
	if err := d.bus.Publish(ctx, event); err != nil {
		d.log.Error().Err(err).Str("type", string(event.Type)).Msg("Broadcast publish failed")
	}
}

func (d *Dispatcher) statusLocked() notify.Status {
	detail := make([]string, 0, len(d.connected)+1)

	for _, dev := range d.connected {
		detail = append(detail, fmt.Sprintf("%s: %s", dev.Name, dev.State))
	}

	if d.lastMessage != "" {
		detail = append(detail, d.lastMessage)
	}

	return notify.Status{
		ContentText: fmt.Sprintf("%d device(s) connected", len(d.connected)),
		BigText:     strings.Join(detail, "\n"),
	}
}
