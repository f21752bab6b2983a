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

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates events on the broadcast bus.
type EventType string

const (
	EventSessionCreated     EventType = "session.created"
	EventSessionTerminated  EventType = "session.terminated"
	EventActivityStarted    EventType = "activity.started"
	EventActivityStopped    EventType = "activity.stopped"
	EventDeviceConnected    EventType = "device.connected"
	EventDeviceDisconnected EventType = "device.disconnected"
	EventPong               EventType = "pong"
)

// Termination reasons carried by session.terminated events.
const (
	TerminateReasonCancelled = "cancelled"
	TerminateReasonCommand   = "command"
	TerminateReasonError     = "error"
)

// Event is the envelope published on the broadcast bus. ReceiveTime is
// milliseconds since epoch, assigned when the event is dispatched. WatchTime
// originates on the wearable and stays in seconds since epoch; the unit
// mismatch is part of the external contract. Events are immutable once
// constructed.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ReceiveTime int64     `json:"receive_time"`
	StartTime   int64     `json:"start_time,omitempty"`
	DeviceCount int       `json:"device_count,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Device      *Device   `json:"device,omitempty"`
	WatchTime   int64     `json:"watch_time,omitempty"`
	Activity    string    `json:"activity,omitempty"`
	DurationSec int64     `json:"duration_seconds,omitempty"`
}

// TimeToMillis converts a wall-clock time to the milliseconds-since-epoch
// representation used for receive times.
func TimeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func newEvent(eventType EventType, receiveTime time.Time) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ReceiveTime: TimeToMillis(receiveTime),
	}
}

// NewSessionCreated builds the event announcing a new relay session.
func NewSessionCreated(startTime, receiveTime time.Time, deviceCount int) Event {
	e := newEvent(EventSessionCreated, receiveTime)
	e.StartTime = TimeToMillis(startTime)
	e.DeviceCount = deviceCount

	return e
}

// NewSessionTerminated builds the final event of a relay session.
func NewSessionTerminated(reason string, receiveTime time.Time) Event {
	e := newEvent(EventSessionTerminated, receiveTime)
	e.Reason = reason

	return e
}

// NewActivityStarted builds an event for an activity beginning on the watch.
// Duration is always zero for started events, whatever the payload carried.
func NewActivityStarted(device *Device, watchTime int64, activity string, receiveTime time.Time) Event {
	e := newEvent(EventActivityStarted, receiveTime)
	e.Device = device
	e.WatchTime = watchTime
	e.Activity = activity

	return e
}

// NewActivityStopped builds an event for an activity ending on the watch.
func NewActivityStopped(device *Device, watchTime int64, activity string, durationSec int64, receiveTime time.Time) Event {
	e := newEvent(EventActivityStopped, receiveTime)
	e.Device = device
	e.WatchTime = watchTime
	e.Activity = activity
	e.DurationSec = durationSec

	return e
}

// NewDeviceConnected builds a device arrival event.
func NewDeviceConnected(device Device, receiveTime time.Time) Event {
	e := newEvent(EventDeviceConnected, receiveTime)
	e.Device = &device

	return e
}

// NewDeviceDisconnected builds a device departure event.
func NewDeviceDisconnected(device Device, receiveTime time.Time) Event {
	e := newEvent(EventDeviceDisconnected, receiveTime)
	e.Device = &device

	return e
}

// NewPong builds the liveness response to a ping command. A zero startTime
// means no relay session is active.
func NewPong(startTime, receiveTime time.Time) Event {
	e := newEvent(EventPong, receiveTime)

	if !startTime.IsZero() {
		e.StartTime = TimeToMillis(startTime)
	}

	return e
}
