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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/watchbridge/pkg/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "watchbridge.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfigFile(t, `{
		"listen_addr": "127.0.0.1:50051",
		"nats": {
			"url": "nats://127.0.0.1:4222"
		},
		"session": {
			"app_key": "abc123",
			"sdk_ready_timeout": "10s",
			"sdk_poll_interval": 250000000,
			"auto_start": true
		},
		"history_size": 50
	}`)

	var cfg models.BridgeConfig

	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "127.0.0.1:50051", cfg.ListenAddr)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "abc123", cfg.Session.AppKey)
	assert.True(t, cfg.Session.AutoStart)
	assert.Equal(t, 50, cfg.HistorySize)

	// Durations accept strings and numeric nanoseconds.
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Session.ReadyTimeout))
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Session.PollInterval))
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"nats": {"url": "nats://127.0.0.1:4222"},
		"session": {"app_key": "abc123"}
	}`)

	var cfg models.BridgeConfig

	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "watchbridge.events", cfg.NATS.EventsSubject)
	assert.Equal(t, "watchbridge.commands", cfg.NATS.CommandsSubject)
	assert.Equal(t, "watchbridge.notification", cfg.NATS.NotifySubject)
	assert.Equal(t, "simulator", cfg.Connector)
	assert.Equal(t, 100, cfg.HistorySize)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Session.ReadyTimeout))
	assert.Equal(t, 500*time.Millisecond, time.Duration(cfg.Session.PollInterval))
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Session.RecoveryTimeout))
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Session.StopTimeout))
	assert.False(t, cfg.Session.AutoStart)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"missing nats url", `{"session": {"app_key": "abc123"}}`},
		{"missing app key", `{"nats": {"url": "nats://127.0.0.1:4222"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfigFile(t, tc.content)

			var cfg models.BridgeConfig

			require.Error(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))
		})
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Parallel()

	var cfg models.BridgeConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "/nonexistent/watchbridge.json", &cfg)
	require.Error(t, err)
}

func TestLoadRejectsNilDst(t *testing.T) {
	t.Parallel()

	err := NewConfig(nil).LoadAndValidate(context.Background(), "unused.json", nil)
	require.ErrorIs(t, err, errInvalidConfigPtr)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `{
		"nats": {"url": "nats://127.0.0.1:4222"},
		"session": {"app_key": "from-file"},
		"command_token": "from-file"
	}`)

	t.Setenv(EnvNATSURL, "nats://10.0.0.1:4222")
	t.Setenv(EnvCommandToken, "from-env")
	t.Setenv(EnvAppKey, "env-app-key")
	t.Setenv(EnvListenAddr, "0.0.0.0:50051")

	var cfg models.BridgeConfig

	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "nats://10.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "from-env", cfg.CommandToken)
	assert.Equal(t, "env-app-key", cfg.Session.AppKey)
	assert.Equal(t, "0.0.0.0:50051", cfg.ListenAddr)
}
