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
	"github.com/pairlink/watchbridge/pkg/models"
)

// Environment variables recognized as overrides for deployment settings that
// commonly differ between the config file and the runtime environment.
const (
	EnvNATSURL      = "WATCHBRIDGE_NATS_URL"
	EnvCommandToken = "WATCHBRIDGE_COMMAND_TOKEN"
	EnvListenAddr   = "WATCHBRIDGE_LISTEN_ADDR"
	EnvAppKey       = "WATCHBRIDGE_APP_KEY"
)

// applyEnvOverrides overlays known environment variables onto the loaded
// configuration. Only BridgeConfig carries env-overridable fields today.
func applyEnvOverrides(dst interface{}) {
	cfg, ok := dst.(*models.BridgeConfig)
	if !ok {
		return
	}

	if v := envOrEmpty(EnvNATSURL); v != "" {
		cfg.NATS.URL = v
	}

	if v := envOrEmpty(EnvCommandToken); v != "" {
		cfg.CommandToken = v
	}

	if v := envOrEmpty(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}

	if v := envOrEmpty(EnvAppKey); v != "" {
		cfg.Session.AppKey = v
	}
}
