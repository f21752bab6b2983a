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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pairlink/watchbridge/pkg/logger"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration is a time.Duration that unmarshals from either a duration string
// ("500ms") or a numeric nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// NATSConfig configures NATS connectivity for the bus and command channel.
type NATSConfig struct {
	URL             string `json:"url"`
	EventsSubject   string `json:"events_subject"`
	CommandsSubject string `json:"commands_subject"`
	NotifySubject   string `json:"notify_subject"`
}

const (
	defaultEventsSubject   = "watchbridge.events"
	defaultCommandsSubject = "watchbridge.commands"
	defaultNotifySubject   = "watchbridge.notification"
)

// Validate ensures the NATS configuration is valid and fills in defaults.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats url is required")
	}

	if c.EventsSubject == "" {
		c.EventsSubject = defaultEventsSubject
	}

	if c.CommandsSubject == "" {
		c.CommandsSubject = defaultCommandsSubject
	}

	if c.NotifySubject == "" {
		c.NotifySubject = defaultNotifySubject
	}

	return nil
}

// SessionConfig bounds the SDK bring-up, recovery, and shutdown paths.
type SessionConfig struct {
	AppKey           string   `json:"app_key"` // wearable app whose messages are relayed
	ReadyTimeout     Duration `json:"sdk_ready_timeout"`
	PollInterval     Duration `json:"sdk_poll_interval"`
	RecoveryTimeout  Duration `json:"recovery_timeout"`
	DiscoveryTimeout Duration `json:"discovery_timeout"`
	StopTimeout      Duration `json:"stop_timeout"`
	AutoStart        bool     `json:"auto_start"`
}

const (
	defaultReadyTimeout     = 30 * time.Second
	defaultPollInterval     = 500 * time.Millisecond
	defaultRecoveryTimeout  = 5 * time.Second
	defaultDiscoveryTimeout = 500 * time.Millisecond
	defaultStopTimeout      = 10 * time.Second
)

// Validate ensures the session configuration is valid and fills in defaults.
func (c *SessionConfig) Validate() error {
	if c.AppKey == "" {
		return fmt.Errorf("session app_key is required")
	}

	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = Duration(defaultReadyTimeout)
	}

	if c.PollInterval <= 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}

	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = Duration(defaultRecoveryTimeout)
	}

	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = Duration(defaultDiscoveryTimeout)
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = Duration(defaultStopTimeout)
	}

	return nil
}

const defaultHistorySize = 100

// BridgeConfig is the top-level configuration for the watchbridge daemon.
type BridgeConfig struct {
	ListenAddr   string         `json:"listen_addr,omitempty"` // gRPC health endpoint, empty disables
	Connector    string         `json:"connector"`             // SDK connector implementation
	NATS         NATSConfig     `json:"nats"`
	Session      SessionConfig  `json:"session"`
	HistorySize  int            `json:"history_size"`
	CommandToken string         `json:"command_token,omitempty"` // empty leaves the command channel open
	Logging      *logger.Config `json:"logging,omitempty"`
}

// Validate checks the whole configuration tree and fills in defaults.
func (c *BridgeConfig) Validate() error {
	if err := c.NATS.Validate(); err != nil {
		return err
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}

	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}

	if c.Connector == "" {
		c.Connector = "simulator"
	}

	return nil
}
